// dictactl is the control companion for the dictation daemon: it toggles
// sessions and inspects status over the daemon's NATS bus.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dictalabs/dicta-core/internal/config"
	"github.com/dictalabs/dicta-core/internal/protocol"
)

func main() {
	var (
		configPath string
		servers    string
		timeout    time.Duration
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&servers, "servers", "", "NATS servers (overrides config)")
	flag.DurationVar(&timeout, "timeout", 2*time.Second, "Request timeout")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal("failed to load config: %v", err)
	}
	url := strings.Join(cfg.Bus.Servers, ",")
	if servers != "" {
		url = servers
	}

	conn, err := nats.Connect(url, nats.Name("dictactl"), nats.Timeout(timeout))
	if err != nil {
		fatal("failed to connect to %s: %v (is dictad running?)", url, err)
	}
	defer conn.Close()

	switch flag.Arg(0) {
	case "toggle":
		if err := toggle(conn); err != nil {
			fatal("toggle failed: %v", err)
		}
		fmt.Println("toggled")
	case "status":
		if err := status(conn, timeout); err != nil {
			fatal("status failed: %v", err)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func toggle(conn *nats.Conn) error {
	req := protocol.ToggleRequest{Source: "cli", Timestamp: time.Now().UTC()}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := conn.Publish(protocol.SubjectSessionToggle, data); err != nil {
		return err
	}
	return conn.Flush()
}

func status(conn *nats.Conn, timeout time.Duration) error {
	msg, err := conn.Request(protocol.SubjectStatusRequest, nil, timeout)
	if err != nil {
		return err
	}
	var st protocol.Status
	if err := json.Unmarshal(msg.Data, &st); err != nil {
		return err
	}

	fmt.Printf("state:   %s\n", st.State)
	if st.SessionID != "" {
		fmt.Printf("session: %s\n", st.SessionID)
	}
	if st.Engine != "" {
		fmt.Printf("engine:  %s\n", st.Engine)
	}
	if st.LastPartial != "" {
		fmt.Printf("partial: %s\n", st.LastPartial)
	}
	if st.LastError != "" {
		fmt.Printf("error:   %s\n", st.LastError)
	}
	for _, e := range st.Engines {
		avail := "unavailable"
		if e.Available {
			avail = "available"
		}
		detail := ""
		if e.Detail != "" {
			detail = " (" + e.Detail + ")"
		}
		fmt.Printf("  engine %-12s %s%s\n", e.ID, avail, detail)
	}
	return nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: dictactl [flags] <command>

Commands:
  toggle   Start or stop a dictation session
  status   Show daemon status and engine availability

Flags:
`)
	flag.PrintDefaults()
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
