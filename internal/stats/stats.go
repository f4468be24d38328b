// Package stats implements an optional periodic CSV dump of tunnel-level
// counters.
package stats

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// Counters are the tunnel-level metrics that Run writes out. All fields are
// updated with sync/atomic and safe for concurrent use.
type Counters struct {
	SessionsRegistered int64
	SessionsTornDown   int64
	StreamsOpened      int64
	StreamsClosed      int64
	BytesToAgent       int64
	BytesToExternal    int64
	PortExhaustions    int64
	AuthFailures       int64
}

func (c *Counters) header() []string {
	return []string{
		"sessions_registered", "sessions_torn_down",
		"streams_opened", "streams_closed",
		"bytes_to_agent", "bytes_to_external",
		"port_exhaustions", "auth_failures",
	}
}

func (c *Counters) row() []string {
	return []string{
		fmt.Sprint(atomic.LoadInt64(&c.SessionsRegistered)),
		fmt.Sprint(atomic.LoadInt64(&c.SessionsTornDown)),
		fmt.Sprint(atomic.LoadInt64(&c.StreamsOpened)),
		fmt.Sprint(atomic.LoadInt64(&c.StreamsClosed)),
		fmt.Sprint(atomic.LoadInt64(&c.BytesToAgent)),
		fmt.Sprint(atomic.LoadInt64(&c.BytesToExternal)),
		fmt.Sprint(atomic.LoadInt64(&c.PortExhaustions)),
		fmt.Sprint(atomic.LoadInt64(&c.AuthFailures)),
	}
}

// Run periodically appends a CSV row of c's current values to path, rotating
// the filename through time.Now().Format, and returns when done is closed.
// An empty path or a zero interval disables logging entirely; Run then
// returns at once.
func Run(path string, intervalSeconds int, c *Counters, done <-chan struct{}) {
	if path == "" || intervalSeconds == 0 {
		return
	}
	ticker := time.NewTicker(time.Duration(intervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			writeRow(path, c)
		}
	}
}

func writeRow(path string, c *Counters) {
	logdir, logfile := filepath.Split(path)
	f, err := os.OpenFile(logdir+time.Now().Format(logfile), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Println("stats:", err)
		return
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
		if err := w.Write(append([]string{"unix"}, c.header()...)); err != nil {
			log.Println("stats:", err)
		}
	}
	if err := w.Write(append([]string{fmt.Sprint(time.Now().Unix())}, c.row()...)); err != nil {
		log.Println("stats:", err)
	}
	w.Flush()
}
