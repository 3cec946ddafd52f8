package main

import (
	"flag"
	"fmt"
	"log"

	quic "github.com/quillquic/quic"
	"github.com/quillquic/quic/transport"
)

func serverCommand(args []string) error {
	cmd := flag.NewFlagSet("server", flag.ExitOnError)
	listenAddr := cmd.String("listen", "0.0.0.0:4433", "listen on the given IP:port")
	certFile := cmd.String("cert", "", "TLS certificate file")
	keyFile := cmd.String("key", "", "TLS key file")
	logLevel := cmd.String("v", "info", "log level: off/error/info/debug")
	cmd.Parse(args)

	if *certFile == "" || *keyFile == "" {
		fmt.Fprintln(cmd.Output(), "Usage: quince server -cert <file> -key <file> [options]")
		cmd.PrintDefaults()
		return nil
	}
	cfg := quic.DefaultConfig()
	cfg.CertFile = *certFile
	cfg.KeyFile = *keyFile
	cfg.Log.Level = *logLevel

	endpoint, err := quic.ListenServer(*listenAddr, cfg, &serverHandler{})
	if err != nil {
		return err
	}
	log.Printf("listening on %s", *listenAddr)
	select {}
}

// serverHandler echoes every byte it reads on a stream back to the
// sender, matching the teacher's trivial echo demo purpose for quince.
type serverHandler struct{}

func (s *serverHandler) Serve(c *quic.Conn, events []transport.Event) {
	for _, e := range events {
		switch e.Kind {
		case transport.EventStreamReadable:
			st := c.Stream(e.StreamID)
			buf := make([]byte, 512)
			n, err := st.Read(buf)
			if n > 0 {
				_, _ = st.Write(buf[:n])
			}
			if err != nil {
				_ = st.Close()
			}
		case transport.EventStateChange:
			log.Printf("%s connection state: %s", c.RemoteAddr(), c.State())
		}
	}
}
