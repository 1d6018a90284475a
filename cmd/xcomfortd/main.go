// Command xcomfortd bridges an Eaton xComfort RF network to an MQTT
// broker through a CKOZ-00/14 USB stick.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"xcomfortd/internal/daemon"
	"xcomfortd/internal/engine"
	"xcomfortd/internal/mqttbridge"
	"xcomfortd/internal/statusapi"
	"xcomfortd/internal/usbtransport"
	"xcomfortd/internal/xcconfig"
	"xcomfortd/internal/xclog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := xcconfig.Load()

	var (
		verbose    bool
		daemonize  bool
		host       string
		port       int
		username   string
		password   string
		statusAddr string
		window     int
	)

	flag.BoolVar(&verbose, "verbose", false, "log informational messages")
	flag.BoolVar(&verbose, "v", false, "shorthand for -verbose")
	flag.BoolVar(&daemonize, "daemon", false, "detach and log to syslog")
	flag.BoolVar(&daemonize, "d", false, "shorthand for -daemon")
	flag.StringVar(&host, "host", cfg.Host, "MQTT broker host")
	flag.StringVar(&host, "h", cfg.Host, "shorthand for -host")
	flag.IntVar(&port, "port", cfg.Port, "MQTT broker port")
	flag.IntVar(&port, "p", cfg.Port, "shorthand for -port")
	flag.StringVar(&username, "username", cfg.Username, "MQTT username")
	flag.StringVar(&username, "u", cfg.Username, "shorthand for -username")
	flag.StringVar(&password, "password", cfg.Password, "MQTT password")
	flag.StringVar(&password, "P", cfg.Password, "shorthand for -password")
	flag.StringVar(&statusAddr, "status-addr", "127.0.0.1:8686", "status API listen address")
	flag.IntVar(&window, "window", engine.DefaultWindow, "maximum in-flight telegrams (1 unless the stick is known to tolerate more)")
	flag.Parse()

	if daemonize {
		resolved := map[string]string{
			"XCOMFORTD_HOST":     host,
			"XCOMFORTD_PORT":     strconv.Itoa(port),
			"XCOMFORTD_USERNAME": username,
			"XCOMFORTD_PASSWORD": password,
		}
		if err := daemon.Daemonize(resolved); err != nil {
			return fmt.Errorf("daemonize: %w", err)
		}
	}

	log, err := xclog.New(daemonize, verbose)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGINT)
	defer cancel()

	eng := engine.New(nil, nil, log, window)

	transport, err := usbtransport.Open(eng)
	if err != nil {
		return fmt.Errorf("open USB stick: %w", err)
	}
	defer transport.Close()
	eng.MarkUSBOpen()

	bridge, err := mqttbridge.New(mqttbridge.Config{
		Broker:   fmt.Sprintf("tcp://%s:%d", host, port),
		Username: username,
		Password: password,
	}, eng, log, log)
	if err != nil {
		return fmt.Errorf("connect to MQTT broker: %w", err)
	}
	defer bridge.Close()

	eng.SetCollaborators(transport, bridge)

	status := statusapi.New(statusAddr, eng)

	errCh := make(chan error, 3)
	go func() { errCh <- transport.Run(ctx) }()
	go func() { errCh <- eng.Run(ctx) }()
	go func() { errCh <- status.Run(ctx) }()

	// Wait for all three workers to exit before the deferred Close calls
	// run, so transport.Close never races transport.Run's in-flight USB
	// read. The first non-cancellation error (if any) becomes the result.
	remaining := 3
	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		remaining--
		runErr = err
	}
	cancel()
	for ; remaining > 0; remaining-- {
		if err := <-errCh; (runErr == nil || runErr == context.Canceled) && err != nil && err != context.Canceled {
			runErr = err
		}
	}

	if runErr != nil && runErr != context.Canceled {
		return runErr
	}
	return nil
}
