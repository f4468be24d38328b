// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/urfave/cli"
	"github.com/xtaci/revtun/broker"
	"github.com/xtaci/revtun/internal/stats"
)

// VERSION is injected by build flags when packaging official binaries.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	app := cli.NewApp()
	app.Name = "revtun-broker"
	app.Usage = "reverse TCP tunnel broker"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "bind", Value: "0.0.0.0", Usage: "address for the control listener"},
		cli.IntFlag{Name: "control", Value: 7000, Usage: "TCP port for the control listener"},
		cli.IntFlag{Name: "port-min", Value: 10000, Usage: "lower bound of the public port range"},
		cli.IntFlag{Name: "port-max", Value: 11000, Usage: "upper bound of the public port range"},
		cli.StringFlag{Name: "token", EnvVar: "REVTUN_TOKEN", Usage: "shared authentication secret (required)"},
		cli.IntFlag{Name: "chunk", Value: 65536, Usage: "relay pump read chunk size in bytes"},
		cli.BoolFlag{Name: "compress", Usage: "snappy-compress the control channel"},
		cli.BoolFlag{Name: "quiet", Usage: "suppress the 'stream open/close' messages"},
		cli.StringFlag{Name: "log", Value: "", Usage: "log file to write to, default goes to stderr"},
		cli.StringFlag{Name: "statlog", Value: "", Usage: "collect tunnel-level stats to a CSV file, aware of timeformat in golang"},
		cli.IntFlag{Name: "statperiod", Value: 60, Usage: "stats collection period, in seconds"},
		cli.StringFlag{Name: "c", Value: "", Usage: "config from JSON file, overrides the flags above"},
	}
	app.Action = run
	if err := app.Run(os.Args); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := broker.Config{
		Bind:       c.String("bind"),
		Control:    c.Int("control"),
		PortMin:    c.Int("port-min"),
		PortMax:    c.Int("port-max"),
		Token:      c.String("token"),
		Chunk:      c.Int("chunk"),
		Compress:   c.Bool("compress"),
		Quiet:      c.Bool("quiet"),
		Log:        c.String("log"),
		StatLog:    c.String("statlog"),
		StatPeriod: c.Int("statperiod"),
	}

	if c.String("c") != "" {
		if err := broker.ParseJSONConfig(&cfg, c.String("c")); err != nil {
			log.Println(err)
			os.Exit(1)
		}
	}

	if cfg.Token == "" {
		color.Red("fatal: --token is required")
		os.Exit(1)
	}
	if cfg.PortMin > cfg.PortMax {
		color.Red("fatal: port-min %d is greater than port-max %d", cfg.PortMin, cfg.PortMax)
		os.Exit(1)
	}

	if cfg.Log != "" {
		f, err := os.OpenFile(cfg.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Println(err)
			os.Exit(1)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	log.Println("version:", VERSION)
	log.Println("bind:", cfg.Bind, "control:", cfg.Control)
	log.Println("port range:", cfg.PortMin, "-", cfg.PortMax)
	log.Println("chunk:", cfg.Chunk)
	log.Println("compress:", cfg.Compress)
	log.Println("quiet:", cfg.Quiet)

	b, err := broker.New(cfg.Token, cfg.PortMin, cfg.PortMax, cfg.Compress, cfg.Quiet, cfg.Chunk)
	if err != nil {
		color.Red("fatal: %v", err)
		os.Exit(1)
	}

	controlAddr := fmt.Sprintf("%s:%d", cfg.Bind, cfg.Control)
	ln, err := net.Listen("tcp", controlAddr)
	if err != nil {
		color.Red("fatal: bind control listener: %v", err)
		os.Exit(1)
	}
	log.Println("control listener on:", controlAddr)

	statsDone := make(chan struct{})
	go stats.Run(cfg.StatLog, cfg.StatPeriod, b.Stats, statsDone)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	acceptDone := make(chan struct{})
	go acceptLoop(ln, b, acceptDone)

	switch <-sig {
	case syscall.SIGINT:
		log.Println("SIGINT received, shutting down")
		ln.Close()
		b.Shutdown()
		close(statsDone)
		os.Exit(130)
	case syscall.SIGTERM:
		log.Println("SIGTERM received, shutting down gracefully")
		ln.Close()
		b.Shutdown()
		close(statsDone)
		os.Exit(0)
	}
	return nil
}

func acceptLoop(ln net.Listener, b *broker.Broker, done chan<- struct{}) {
	defer close(done)
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func() {
			if err := b.HandleControl(conn); err != nil {
				log.Println("broker: control handler:", err)
			}
		}()
	}
}
