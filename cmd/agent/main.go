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
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli"
	"github.com/xtaci/revtun/agent"
)

// VERSION is injected by build flags when packaging official binaries.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	app := cli.NewApp()
	app.Name = "revtun-agent"
	app.Usage = "reverse TCP tunnel agent"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "server-host", Usage: "broker control host"},
		cli.IntFlag{Name: "server-port", Value: 7000, Usage: "broker control port"},
		cli.StringFlag{Name: "token", EnvVar: "REVTUN_TOKEN", Usage: "shared authentication secret"},
		cli.StringFlag{Name: "local-host", Value: "127.0.0.1", Usage: "local service host"},
		cli.IntFlag{Name: "local-port", Usage: "local service port"},
		cli.IntFlag{Name: "chunk", Value: 65536, Usage: "relay pump read chunk size in bytes"},
		cli.BoolFlag{Name: "compress", Usage: "snappy-compress the control channel"},
		cli.BoolFlag{Name: "quiet", Usage: "suppress the 'stream open/close' messages"},
		cli.StringFlag{Name: "log", Value: "", Usage: "log file to write to, default goes to stderr"},
		cli.StringFlag{Name: "c", Value: "", Usage: "config from JSON file, overrides the flags above"},
		cli.BoolFlag{Name: "save", Usage: "persist connection fields (excluding token) for next run"},
		cli.BoolFlag{Name: "restore", Usage: "load previously --save'd connection fields before applying flags"},
	}
	app.Action = run
	if err := app.Run(os.Args); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := agent.Config{}

	if c.Bool("restore") {
		restored, err := agent.LoadConnection()
		if err == nil {
			cfg = restored
		} else {
			log.Println("agent: --restore requested but no saved connection found:", err)
		}
	}

	if c.IsSet("server-host") || cfg.ServerHost == "" {
		cfg.ServerHost = c.String("server-host")
	}
	if c.IsSet("server-port") || cfg.ServerPort == 0 {
		cfg.ServerPort = c.Int("server-port")
	}
	if c.IsSet("local-host") || cfg.LocalHost == "" {
		cfg.LocalHost = c.String("local-host")
	}
	if c.IsSet("local-port") || cfg.LocalPort == 0 {
		cfg.LocalPort = c.Int("local-port")
	}
	cfg.Token = c.String("token")
	cfg.Quiet = c.Bool("quiet")
	cfg.Compress = c.Bool("compress")
	cfg.Chunk = c.Int("chunk")
	cfg.Log = c.String("log")

	if c.String("c") != "" {
		if err := agent.ParseJSONConfig(&cfg, c.String("c")); err != nil {
			log.Println(err)
			os.Exit(1)
		}
	}

	if err := cfg.Validate(); err != nil {
		color.Red("fatal: %v", err)
		os.Exit(1)
	}

	if c.Bool("save") {
		if err := agent.SaveConnection(cfg); err != nil {
			log.Println("agent: failed to save connection:", err)
		}
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
	log.Println("server:", cfg.ServerHost, cfg.ServerPort)
	log.Println("local:", cfg.LocalHost, cfg.LocalPort)
	log.Println("chunk:", cfg.Chunk)
	log.Println("compress:", cfg.Compress)
	log.Println("quiet:", cfg.Quiet)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	stop := make(chan struct{})
	go func() {
		<-sig
		log.Println("shutting down")
		close(stop)
	}()

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		client, err := agent.Connect(cfg.ServerHost, cfg.ServerPort, cfg.Token, cfg.LocalHost, cfg.LocalPort, cfg.Compress, cfg.Quiet, cfg.Chunk)
		if err != nil {
			log.Println("re-connecting:", err)
			select {
			case <-time.After(time.Second):
			case <-stop:
				return nil
			}
			continue
		}

		done := make(chan struct{})
		go func() {
			if err := client.Run(); err != nil {
				log.Println("agent: control loop ended:", err)
			}
			close(done)
		}()

		select {
		case <-done:
			// broker dropped us; loop around to reconnect
		case <-stop:
			client.Close()
			return nil
		}
	}
}
