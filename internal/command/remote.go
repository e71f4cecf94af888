package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"firestige.xyz/tsswitch/internal/config"
)

const maxRemoteDatagram = 1024

// Remote text commands.
const (
	RemoteNext     = "next"
	RemotePrevious = "previous"
	RemoteExit     = "exit"
	RemoteHalt     = "halt"
)

// ParseRemoteCommand converts a remote control datagram into a command.
// Accepted texts are next, previous, exit, halt or a decimal input index.
func ParseRemoteCommand(text string) (Command, error) {
	word := strings.ToLower(strings.TrimSpace(text))
	cmd := Command{ID: uuid.NewString()}

	switch word {
	case RemoteNext:
		cmd.Method = MethodInputNext
	case RemotePrevious:
		cmd.Method = MethodInputPrevious
	case RemoteExit, RemoteHalt:
		cmd.Method = MethodDaemonShutdown
	default:
		index, err := strconv.Atoi(word)
		if err != nil || index < 0 {
			return Command{}, fmt.Errorf("invalid remote command %q", word)
		}
		params, _ := json.Marshal(InputSelectParams{Index: &index})
		cmd.Method = MethodInputSelect
		cmd.Params = params
	}
	return cmd, nil
}

// UDPRemote receives text commands as UDP datagrams. Datagrams from senders
// outside the allow list are ignored. No reply is sent.
type UDPRemote struct {
	listen  string
	allowed []net.IP
	handler *CommandHandler
	conn    *net.UDPConn
	ready   chan struct{}
}

// NewUDPRemote creates a remote control listener. Allowed entries are
// addresses or host names; host names are resolved once here.
func NewUDPRemote(cfg config.RemoteConfig, handler *CommandHandler) (*UDPRemote, error) {
	if cfg.Listen == "" {
		return nil, fmt.Errorf("remote listen address is required")
	}
	r := &UDPRemote{
		listen:  cfg.Listen,
		handler: handler,
		ready:   make(chan struct{}),
	}
	for _, host := range cfg.Allowed {
		if ip := net.ParseIP(host); ip != nil {
			r.allowed = append(r.allowed, ip)
			continue
		}
		ips, err := net.LookupIP(host)
		if err != nil {
			return nil, fmt.Errorf("resolve remote allowed host %q: %w", host, err)
		}
		r.allowed = append(r.allowed, ips...)
	}
	return r, nil
}

// Ready is closed once the socket is bound.
func (r *UDPRemote) Ready() <-chan struct{} { return r.ready }

// Addr returns the bound address once Ready is closed.
func (r *UDPRemote) Addr() net.Addr { return r.conn.LocalAddr() }

// Start serves datagrams until ctx is cancelled.
func (r *UDPRemote) Start(ctx context.Context) error {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", r.listen)
	if err != nil {
		return fmt.Errorf("remote listen on %s: %w", r.listen, err)
	}
	r.conn = pc.(*net.UDPConn)
	close(r.ready)

	slog.Info("udp remote started", "listen", r.conn.LocalAddr().String(), "allowed", len(r.allowed))

	go func() {
		<-ctx.Done()
		r.conn.Close()
	}()

	buf := make([]byte, maxRemoteDatagram)
	for {
		n, src, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				slog.Info("udp remote stopped")
				return nil
			}
			slog.Error("udp remote receive failed", "error", err)
			continue
		}
		if !r.isAllowed(src.IP) {
			slog.Warn("rejected remote command from unauthorized source", "source", src.String())
			continue
		}

		text := string(buf[:n])
		cmd, err := ParseRemoteCommand(text)
		if err != nil {
			slog.Warn("ignored remote command", "source", src.String(), "error", err)
			continue
		}
		resp := r.handler.Handle(ctx, cmd)
		if resp.Error != nil {
			slog.Warn("remote command failed",
				"source", src.String(),
				"command", strings.TrimSpace(text),
				"error", resp.Error.Message,
			)
		}
	}
}

func (r *UDPRemote) isAllowed(ip net.IP) bool {
	if len(r.allowed) == 0 {
		return true
	}
	for _, a := range r.allowed {
		if a.Equal(ip) {
			return true
		}
	}
	return false
}
