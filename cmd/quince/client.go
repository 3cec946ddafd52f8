package main

import (
	"flag"
	"fmt"
	"log"
	"strings"
	"sync"

	quic "github.com/quillquic/quic"
	"github.com/quillquic/quic/transport"
)

func clientCommand(args []string) error {
	cmd := flag.NewFlagSet("client", flag.ExitOnError)
	insecure := cmd.Bool("insecure", false, "skip verifying server certificate")
	data := cmd.String("data", "GET /\r\n", "sending data")
	logLevel := cmd.String("v", "info", "log level: off/error/info/debug")
	cmd.Parse(args)

	addr := cmd.Arg(0)
	if addr == "" {
		fmt.Fprintln(cmd.Output(), "Usage: quince client [options] <address>")
		cmd.PrintDefaults()
		return nil
	}
	cfg := quic.DefaultConfig()
	cfg.ServerName = serverName(addr)
	cfg.InsecureSkipVerify = *insecure
	cfg.Log.Level = *logLevel

	handler := &clientHandler{data: *data}
	endpoint, err := quic.NewClient(cfg, handler)
	if err != nil {
		return err
	}
	handler.wg.Add(1)
	if _, err := endpoint.Connect(addr); err != nil {
		return err
	}
	handler.wg.Wait()
	return endpoint.Close()
}

type clientHandler struct {
	wg   sync.WaitGroup
	data string
	sent bool
}

func (s *clientHandler) Serve(c *quic.Conn, events []transport.Event) {
	for _, e := range events {
		log.Printf("%s connection event: %v", c.RemoteAddr(), e.Kind)
		switch e.Kind {
		case transport.EventStateChange:
			if c.State() == "confirmed" && !s.sent {
				s.sent = true
				st := c.Stream(4)
				_, _ = st.Write([]byte(s.data))
				_ = st.Close()
			}
			if c.State() == "closed" {
				s.wg.Done()
			}
		case transport.EventStreamReadable:
			st := c.Stream(e.StreamID)
			buf := make([]byte, 512)
			n, _ := st.Read(buf)
			log.Printf("stream %d received:\n%s", e.StreamID, buf[:n])
		}
	}
}

func serverName(s string) string {
	colon := strings.LastIndex(s, ":")
	if colon > 0 {
		bracket := strings.LastIndex(s, "]")
		if colon > bracket {
			return s[:colon]
		}
	}
	return s
}
