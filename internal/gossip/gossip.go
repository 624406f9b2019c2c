// Package gossip is the UDP announce/absorb discovery subsystem, grounded
// on runinator-ws/src/discovery.rs (the announce loop and wire envelope)
// and runinator-comm's net.rs (unicast fan-out target list, silent drop of
// unparseable datagrams). The directory it feeds satisfies the same
// interface whether backed by an in-memory map or Redis (internal/gossip
// .RedisDirectory), mirroring Crabzie's nodeCoordinator heartbeat pattern.
package gossip

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"runinator/internal/eventbus"
)

// Announcement is the wire shape carried inside a gossip datagram's
// "service" field for type="web_service" (spec §4.5). Other announcement
// types (scheduler, broker, worker) use the identical shape with a
// different envelope "type".
type Announcement struct {
	ServiceID     string    `json:"service_id"`
	Address       string    `json:"address"`
	Port          uint16    `json:"port"`
	BasePath      string    `json:"base_path"`
	LastHeartbeat time.Time `json:"last_heartbeat"`

	// Kind is the envelope "type" this announcement arrived under
	// (web_service, scheduler, broker, worker). The sender leaves it blank
	// (the envelope's outer "type" field already carries it over the
	// wire); the receiver fills it in on absorb so a Directory holding
	// every kind at once can filter Freshest by kind.
	Kind string `json:"kind,omitempty"`
}

// Envelope is the full gossip datagram: {"type":"...", "<key>":{...}}, where
// the key is "service" for type web_service and the type name otherwise.
// Only the field matching Type is populated; this mirrors the original's
// tagged-enum GossipMessage serialized with serde's internally-tagged
// representation.
type Envelope struct {
	Type       string        `json:"type"`
	WebService *Announcement `json:"service,omitempty"`
	Scheduler  *Announcement `json:"scheduler,omitempty"`
	Broker     *Announcement `json:"broker,omitempty"`
	Worker     *Announcement `json:"worker,omitempty"`
}

func (e Envelope) announcement() (*Announcement, bool) {
	switch e.Type {
	case "web_service":
		return e.WebService, e.WebService != nil
	case "scheduler":
		return e.Scheduler, e.Scheduler != nil
	case "broker":
		return e.Broker, e.Broker != nil
	case "worker":
		return e.Worker, e.Worker != nil
	default:
		return nil, false
	}
}

func envelopeFor(kind string, a Announcement) Envelope {
	e := Envelope{Type: kind}
	switch kind {
	case "web_service":
		e.WebService = &a
	case "scheduler":
		e.Scheduler = &a
	case "broker":
		e.Broker = &a
	case "worker":
		e.Worker = &a
	}
	return e
}

// Targets builds the unicast fan-out list from a gossip port and the
// operator-configured extra peers, per runinator-comm's gossip_targets:
// broadcast + loopback defaults, plus any extra host or host:port entries,
// deduplicated.
func Targets(gossipPort uint16, extra []string) []string {
	set := map[string]struct{}{
		fmt.Sprintf("255.255.255.255:%d", gossipPort): {},
		fmt.Sprintf("127.0.0.1:%d", gossipPort):        {},
	}
	for _, t := range extra {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if strings.Contains(t, ":") {
			set[t] = struct{}{}
		} else {
			set[fmt.Sprintf("%s:%d", t, gossipPort)] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// NewServiceID generates the uuid gossip announcements identify themselves
// with when no stable id was otherwise configured.
func NewServiceID() string { return uuid.NewString() }

// Advertiser periodically emits this process's own announcement to every
// configured target. One Advertiser instance corresponds to one of the
// spec's "type" values (web_service, scheduler, broker, worker).
type Advertiser struct {
	kind    string
	conn    *net.UDPConn
	targets []string
	log     *zap.Logger

	serviceID string
	address   string
	port      uint16
	basePath  string
}

func NewAdvertiser(kind, bindAddr string, targets []string, serviceID, address string, port uint16, basePath string, log *zap.Logger) (*Advertiser, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(bindAddr, "0"))
	if err != nil {
		return nil, fmt.Errorf("gossip: resolve bind address: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		// Per spec §4.5: socket-bind errors are fatal to gossip only.
		return nil, fmt.Errorf("gossip: bind advertiser socket: %w", err)
	}
	if err := setBroadcast(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("gossip: enable broadcast on advertiser socket: %w", err)
	}
	return &Advertiser{
		kind: kind, conn: conn, targets: targets, log: log,
		serviceID: serviceID, address: address, port: port, basePath: basePath,
	}, nil
}

// Announce sends one datagram to every target, logging (not failing) on
// per-target send errors.
func (a *Advertiser) Announce() {
	env := envelopeFor(a.kind, Announcement{
		ServiceID:     a.serviceID,
		Address:       a.address,
		Port:          a.port,
		BasePath:      a.basePath,
		LastHeartbeat: time.Now().UTC(),
	})
	payload, err := json.Marshal(env)
	if err != nil {
		a.log.Warn("gossip: failed to serialize announcement", zap.Error(err))
		return
	}
	for _, target := range a.targets {
		addr, err := net.ResolveUDPAddr("udp", target)
		if err != nil {
			a.log.Warn("gossip: bad target", zap.String("target", target), zap.Error(err))
			continue
		}
		if _, err := a.conn.WriteToUDP(payload, addr); err != nil {
			a.log.Debug("gossip: send failed", zap.String("target", target), zap.Error(err))
		}
	}
}

// Run announces every interval until stop is closed.
func (a *Advertiser) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.Announce()
		}
	}
}

func (a *Advertiser) Close() error { return a.conn.Close() }

// setBroadcast enables SO_BROADCAST on conn so Announce's send to
// 255.255.255.255 (see Targets) doesn't fail with EACCES on Linux, matching
// runinator-comm/src/discovery/net.rs's socket.set_broadcast(true).
func setBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	}); err != nil {
		return err
	}
	return sockErr
}

// Listener receives gossip datagrams and absorbs them into a Directory,
// publishing a change notification on the given bus when the directory's
// freshest entry changes.
type Listener struct {
	conn *net.UDPConn
	dir  Directory
	bus  eventbus.Bus
	log  *zap.Logger
}

func NewListener(bindAddr string, port uint16, dir Directory, bus eventbus.Bus, log *zap.Logger) (*Listener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(bindAddr, strconv.Itoa(int(port))))
	if err != nil {
		return nil, fmt.Errorf("gossip: resolve listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("gossip: bind listener socket: %w", err)
	}
	return &Listener{conn: conn, dir: dir, bus: bus, log: log}, nil
}

func (l *Listener) Close() error { return l.conn.Close() }

// Run reads datagrams until the socket is closed, silently dropping
// unparseable payloads per spec §4.5.
func (l *Listener) Run() {
	buf := make([]byte, 65536)
	for {
		n, sender, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		l.absorb(buf[:n], sender)
	}
}

func (l *Listener) absorb(payload []byte, sender *net.UDPAddr) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return
	}
	ann, ok := env.announcement()
	if !ok {
		return
	}

	if ann.Address == "" {
		ann.Address = sender.IP.String()
	}
	if ann.ServiceID == "" {
		ann.ServiceID = fmt.Sprintf("%s:%d", ann.Address, ann.Port)
	}
	ann.LastHeartbeat = ann.LastHeartbeat.UTC()
	ann.Kind = env.Type

	ctx := context.Background()
	before, _ := l.dir.Freshest(ctx, env.Type)
	if err := l.dir.Upsert(ctx, *ann); err != nil {
		l.log.Warn("gossip: failed to upsert announcement", zap.Error(err))
		return
	}
	after, _ := l.dir.Freshest(ctx, env.Type)

	if changed(before, after) {
		l.bus.Publish(eventbus.Event{Type: "gossip_selection_changed", Data: after})
	}
}

func changed(before, after *Announcement) bool {
	if (before == nil) != (after == nil) {
		return true
	}
	if before == nil {
		return false
	}
	return before.ServiceID != after.ServiceID
}

// URL constructs the address a consumer should call, per spec §4.5.
func (a Announcement) URL() string {
	return fmt.Sprintf("http://%s:%d%s/", a.Address, a.Port, a.BasePath)
}
