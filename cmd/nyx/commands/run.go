package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/dkeye/nyx/internal/adapters/rtc"
	"github.com/dkeye/nyx/internal/adapters/wsclient"
	"github.com/dkeye/nyx/internal/session"
)

const defaultViewSeconds = 30

// runSession connects to the relay, runs start and then serves terminal
// input until the user quits or the process is interrupted.
func runSession(parent context.Context, start func(*session.Session) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	factory := rtc.NewFactory(rtc.Options{
		ICEServers: cfg.Client.ICEServers,
		LowWater:   cfg.Client.BufferLowWater,
		Loopback:   cfg.Client.LoopbackCandidates,
	})
	s, err := session.New(cfg.Client, clockwork.NewRealClock(), factory, newConsole(os.Stdout, outDir))
	if err != nil {
		return err
	}
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	fail := func(err error) error {
		cancel()
		<-errc
		return err
	}
	link, err := wsclient.Dial(ctx, cfg.Client.RelayURL, cfg.Client.BufferLowWater, s)
	if err != nil {
		return fail(fmt.Errorf("dial relay: %w", err))
	}
	if err := s.Attach(link); err != nil {
		return fail(err)
	}
	if err := start(s); err != nil {
		return fail(err)
	}

	go readCommands(s, os.Stdin, cancel)

	if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func readCommands(s *session.Session, in io.Reader, quit context.CancelFunc) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := handleLine(s, line, quit); err != nil {
			fmt.Printf("! %v\n", err)
		}
	}
	quit()
}

func handleLine(s *session.Session, line string, quit context.CancelFunc) error {
	if !strings.HasPrefix(line, "/") {
		return s.SendText(line)
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "/file":
		if len(fields) < 2 {
			return errors.New("usage: /file <path> [seconds]")
		}
		view := defaultViewSeconds
		if len(fields) > 2 {
			n, err := strconv.Atoi(fields[2])
			if err != nil || n <= 0 {
				return fmt.Errorf("bad view duration %q", fields[2])
			}
			view = n
		}
		return sendFile(s, fields[1], view)
	case "/verify":
		if len(fields) != 2 || (fields[1] != "yes" && fields[1] != "no") {
			return errors.New("usage: /verify yes|no")
		}
		return s.Confirm(fields[1] == "yes")
	case "/status":
		st, err := s.Status()
		if err != nil {
			return err
		}
		fmt.Printf("code=%s peer=%s key=%s channel=%s sas=%s verified=%t\n",
			st.Code, st.PeerCode, st.Negotiation, st.Channel, st.SAS, st.Verified)
		return nil
	case "/quit":
		err := s.Terminate()
		quit()
		return err
	}
	return fmt.Errorf("unknown command %s", fields[0])
}

func sendFile(s *session.Session, path string, view int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	name := filepath.Base(path)
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	// the session closes f once it is sent
	id, err := s.SendFile(name, mimeType, info.Size(), f, view)
	if err != nil {
		f.Close()
		return err
	}
	fmt.Printf("sending %s (%d bytes, id %s)\n", name, info.Size(), id)
	return nil
}
