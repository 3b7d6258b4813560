package mqttsn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

// Topic is a topic name together with the id the gateway assigned to it.
type Topic struct {
	Name string
	ID   uint16
}

// Handler receives inbound publications. data is owned by the handler.
type Handler func(t Topic, data []byte)

// Subscription ties a topic filter to its handler. Topic.ID is filled in
// by Subscribe once the gateway has acknowledged it.
type Subscription struct {
	Topic   Topic
	Handler Handler
}

// Will is the last-will message the gateway publishes when the session
// is lost.
type Will struct {
	Topic  string
	Msg    []byte
	QoS    int
	Retain bool
}

// Config holds client parameters.
type Config struct {
	ClientID      string
	KeepAlive     time.Duration // 0 disables PINGREQ
	RetryTimeout  time.Duration
	RetryCount    int
	MaxPacketSize int
	Logger        *slog.Logger
}

// levelTrace matches the node's TRACE log level and is used for packet
// dumps.
const levelTrace = slog.Level(-8)

const (
	defaultRetryTimeout  = 15 * time.Second
	defaultRetryCount    = 3
	defaultMaxPacketSize = 512
)

type pending struct {
	want  MsgType
	msgID uint16
	ch    chan Packet
}

// joining is a subscription waiting for its SUBACK.
type joining struct {
	msgID uint16
	sub   *Subscription
}

// Client is an MQTT-SN client bound to one UDP socket.
type Client struct {
	cfg  Config
	conn *net.UDPConn
	log  *slog.Logger

	done     chan struct{}
	doneOnce sync.Once

	// reqMu keeps a single request in flight.
	reqMu sync.Mutex

	mu        sync.Mutex
	gateway   *net.UDPAddr
	connected bool
	will      *Will
	wait      *pending
	msgID     uint16
	subs      []*Subscription
	joining   *joining
	registry  map[uint16]string // ids registered by the gateway
}

// Listen binds a UDP socket on addr ("host:port", port 0 picks one) and
// returns a client using it. Call Run before issuing requests.
func Listen(addr string, cfg Config) (*Client, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("mqttsn: resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("mqttsn: listen %s: %w", addr, err)
	}
	return newClient(conn, cfg), nil
}

func newClient(conn *net.UDPConn, cfg Config) *Client {
	if cfg.RetryTimeout <= 0 {
		cfg.RetryTimeout = defaultRetryTimeout
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = defaultRetryCount
	}
	if cfg.MaxPacketSize <= 0 {
		cfg.MaxPacketSize = defaultMaxPacketSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:      cfg,
		conn:     conn,
		log:      logger.With("component", "mqttsn"),
		done:     make(chan struct{}),
		registry: make(map[uint16]string),
	}
}

// LocalAddr returns the bound UDP address.
func (c *Client) LocalAddr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

// Connected reports whether a session with the gateway is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close releases the socket; Run returns once it notices.
func (c *Client) Close() error {
	c.markDone()
	return c.conn.Close()
}

func (c *Client) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Run reads datagrams until ctx is cancelled or the socket is closed. It
// also drives the keep-alive pings while a session is open.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.markDone()

	go func() {
		<-ctx.Done()
		c.conn.Close()
	}()
	if c.cfg.KeepAlive > 0 {
		go c.keepAlive(ctx)
	}

	buf := make([]byte, c.cfg.MaxPacketSize)
	for {
		n, from, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("mqttsn: read: %w", err)
		}
		pkt, err := Unmarshal(buf[:n])
		if err != nil {
			c.log.Debug("dropping datagram", "from", from, "error", err)
			continue
		}
		c.log.Log(ctx, levelTrace, "rx", "from", from, "type", pkt.Type(), "bytes", buf[:n])
		c.handle(pkt, from)
	}
}

func (c *Client) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.Connected() {
				continue
			}
			if err := c.Ping(ctx); err != nil && ctx.Err() == nil {
				c.log.Warn("keep-alive failed, session lost", "error", err)
				c.setConnected(false)
			}
		}
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *Client) fromGateway(from *net.UDPAddr) bool {
	c.mu.Lock()
	gw := c.gateway
	c.mu.Unlock()
	return gw != nil && from.Port == gw.Port && from.IP.Equal(gw.IP)
}

func (c *Client) handle(pkt Packet, from *net.UDPAddr) {
	if !c.fromGateway(from) {
		c.log.Debug("ignoring datagram from unknown peer", "from", from, "type", pkt.Type())
		return
	}

	switch p := pkt.(type) {
	case WillTopicReq:
		c.mu.Lock()
		w := c.will
		c.mu.Unlock()
		reply := WillTopic{}
		if w != nil {
			reply.Flags = QoSFlag(w.QoS)
			if w.Retain {
				reply.Flags |= FlagRetain
			}
			reply.Topic = w.Topic
		}
		c.send(reply)
	case WillMsgReq:
		c.mu.Lock()
		w := c.will
		c.mu.Unlock()
		reply := WillMsg{}
		if w != nil {
			reply.Msg = w.Msg
		}
		c.send(reply)
	case Publish:
		c.deliver(p)
		switch p.Flags.QoS() {
		case 1:
			c.send(Puback{TopicID: p.TopicID, MsgID: p.MsgID, ReturnCode: Accepted})
		case 2:
			c.send(MsgIDOnly{T: PUBREC, MsgID: p.MsgID})
		}
	case Register:
		c.mu.Lock()
		c.registry[p.TopicID] = p.TopicName
		c.mu.Unlock()
		c.send(Regack{TopicID: p.TopicID, MsgID: p.MsgID, ReturnCode: Accepted})
	case Pingreq:
		c.send(Pingresp{})
	case MsgIDOnly:
		if p.T == PUBREL {
			c.send(MsgIDOnly{T: PUBCOMP, MsgID: p.MsgID})
			return
		}
		c.complete(p)
	case Suback:
		c.admit(p)
		if !c.complete(p) {
			c.log.Debug("unexpected SUBACK", "msg_id", p.MsgID)
		}
	case Puback:
		if !c.complete(p) && p.ReturnCode != Accepted {
			c.log.Warn("publish rejected by gateway", "topic_id", p.TopicID, "reason", p.ReturnCode)
		}
	case Disconnect:
		if !c.complete(p) {
			c.log.Warn("gateway closed the session")
			c.setConnected(false)
		}
	default:
		if !c.complete(pkt) {
			c.log.Debug("unexpected packet", "type", pkt.Type())
		}
	}
}

// complete hands pkt to the waiting request if it is the expected answer.
func (c *Client) complete(pkt Packet) bool {
	c.mu.Lock()
	w := c.wait
	if w == nil || w.want != pkt.Type() {
		c.mu.Unlock()
		return false
	}
	if id, ok := msgIDOf(pkt); ok && w.msgID != 0 && id != w.msgID {
		c.mu.Unlock()
		return false
	}
	c.wait = nil
	c.mu.Unlock()

	w.ch <- pkt
	return true
}

// admit records the joining subscription as soon as its SUBACK is read,
// so a retained publication in the next datagram finds it.
func (c *Client) admit(ack Suback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j := c.joining
	if j == nil || j.msgID != ack.MsgID || ack.ReturnCode != Accepted {
		return
	}
	j.sub.Topic.ID = ack.TopicID
	c.subs = append(c.subs, j.sub)
	c.joining = nil
}

func msgIDOf(pkt Packet) (uint16, bool) {
	switch p := pkt.(type) {
	case Regack:
		return p.MsgID, true
	case Puback:
		return p.MsgID, true
	case Suback:
		return p.MsgID, true
	case MsgIDOnly:
		return p.MsgID, true
	default:
		return 0, false
	}
}

func (c *Client) deliver(p Publish) {
	c.mu.Lock()
	var name string
	switch p.Flags.TopicType() {
	case TopicShort:
		name = string([]byte{byte(p.TopicID >> 8), byte(p.TopicID)})
	default:
		name = c.registry[p.TopicID]
	}
	var sub *Subscription
	for _, s := range c.subs {
		if s.Topic.ID == p.TopicID && s.Topic.ID != 0 {
			sub = s
			break
		}
		if name != "" && MatchTopic(s.Topic.Name, name) {
			sub = s
		}
	}
	c.mu.Unlock()

	if sub == nil {
		c.log.Debug("publication for unknown topic", "topic_id", p.TopicID)
		return
	}
	if name == "" {
		name = sub.Topic.Name
	}
	if sub.Handler != nil {
		sub.Handler(Topic{Name: name, ID: p.TopicID}, p.Data)
	}
}

// MatchTopic applies MQTT wildcard rules ("+" one level, "#" the rest).
func MatchTopic(filter, name string) bool {
	f := strings.Split(filter, "/")
	n := strings.Split(name, "/")
	for i, part := range f {
		if part == "#" {
			return true
		}
		if i >= len(n) {
			return false
		}
		if part != "+" && part != n[i] {
			return false
		}
	}
	return len(f) == len(n)
}

func (c *Client) send(p Packet) {
	if err := c.write(p); err != nil {
		c.log.Warn("send failed", "type", p.Type(), "error", err)
	}
}

func (c *Client) write(p Packet) error {
	b, err := Marshal(p)
	if err != nil {
		return err
	}
	if len(b) > c.cfg.MaxPacketSize {
		return fmt.Errorf("%s of %d octets: %w", p.Type(), len(b), ErrOverflow)
	}
	c.mu.Lock()
	gw := c.gateway
	c.mu.Unlock()
	if gw == nil {
		return ErrNotConnected
	}
	c.log.Log(context.Background(), levelTrace, "tx", "to", gw, "type", p.Type(), "bytes", b)
	_, err = c.conn.WriteToUDP(b, gw)
	return err
}

func (c *Client) nextMsgID() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgID++
	if c.msgID == 0 {
		c.msgID = 1
	}
	return c.msgID
}

func (c *Client) request(ctx context.Context, p Packet, want MsgType, msgID uint16) (Packet, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	return c.roundTrip(ctx, p, want, msgID)
}

// roundTrip sends p and waits for its answer, retransmitting after each
// RetryTimeout. Callers hold reqMu.
func (c *Client) roundTrip(ctx context.Context, p Packet, want MsgType, msgID uint16) (Packet, error) {
	w := &pending{want: want, msgID: msgID, ch: make(chan Packet, 1)}
	c.mu.Lock()
	c.wait = w
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.wait == w {
			c.wait = nil
		}
		c.mu.Unlock()
	}()

	timer := time.NewTimer(c.cfg.RetryTimeout)
	defer timer.Stop()

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			p = markDup(p)
		}
		if err := c.write(p); err != nil {
			return nil, err
		}
		select {
		case resp := <-w.ch:
			return resp, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.done:
			return nil, ErrClosed
		case <-timer.C:
			if attempt >= c.cfg.RetryCount {
				return nil, fmt.Errorf("%s: %w", p.Type(), ErrTimeout)
			}
			c.log.Debug("retransmitting", "type", p.Type(), "attempt", attempt+1)
			timer.Reset(c.cfg.RetryTimeout)
		}
	}
}

func markDup(p Packet) Packet {
	switch v := p.(type) {
	case Publish:
		v.Flags |= FlagDUP
		return v
	case Subscribe:
		v.Flags |= FlagDUP
		return v
	}
	return p
}

// Connect opens a clean session with the gateway at gw. A non-nil will
// is handed over during the WILLTOPICREQ/WILLMSGREQ exchange.
func (c *Client) Connect(ctx context.Context, gw *net.UDPAddr, will *Will) error {
	if gw == nil {
		return fmt.Errorf("mqttsn: connect: no gateway address")
	}
	c.mu.Lock()
	c.gateway = gw
	c.will = will
	c.connected = false
	c.subs = nil
	clear(c.registry)
	c.mu.Unlock()

	flags := FlagCleanSession
	if will != nil {
		flags |= FlagWill
	}
	pkt := Connect{
		Flags:    flags,
		Duration: uint16(c.cfg.KeepAlive / time.Second),
		ClientID: c.cfg.ClientID,
	}
	resp, err := c.request(ctx, pkt, CONNACK, 0)
	if err != nil {
		return fmt.Errorf("mqttsn: connect %s: %w", gw, err)
	}
	if err := checkCode(CONNECT, resp.(Connack).ReturnCode); err != nil {
		return err
	}
	c.setConnected(true)
	c.log.Info("connected to gateway", "gateway", gw.String(), "client_id", c.cfg.ClientID)
	return nil
}

// Register obtains the gateway's topic id for name.
func (c *Client) Register(ctx context.Context, name string) (Topic, error) {
	if !c.Connected() {
		return Topic{}, ErrNotConnected
	}
	id := c.nextMsgID()
	resp, err := c.request(ctx, Register{MsgID: id, TopicName: name}, REGACK, id)
	if err != nil {
		return Topic{}, fmt.Errorf("mqttsn: register %q: %w", name, err)
	}
	ack := resp.(Regack)
	if err := checkCode(REGISTER, ack.ReturnCode); err != nil {
		return Topic{}, err
	}
	return Topic{Name: name, ID: ack.TopicID}, nil
}

// Publish sends data to t. flags selects QoS, retain and the topic id
// type. QoS 0 returns as soon as the datagram is written; QoS 1 and 2
// wait for the full acknowledgement flow.
func (c *Client) Publish(ctx context.Context, t Topic, data []byte, flags Flags) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	p := Publish{
		Flags:   flags & (qosMask | FlagRetain | topicTypeMask),
		TopicID: t.ID,
		Data:    data,
	}

	switch p.Flags.QoS() {
	case 1:
		p.MsgID = c.nextMsgID()
		resp, err := c.request(ctx, p, PUBACK, p.MsgID)
		if err != nil {
			return fmt.Errorf("mqttsn: publish %q: %w", t.Name, err)
		}
		return checkCode(PUBLISH, resp.(Puback).ReturnCode)
	case 2:
		p.MsgID = c.nextMsgID()
		c.reqMu.Lock()
		defer c.reqMu.Unlock()
		if _, err := c.roundTrip(ctx, p, PUBREC, p.MsgID); err != nil {
			return fmt.Errorf("mqttsn: publish %q: %w", t.Name, err)
		}
		if _, err := c.roundTrip(ctx, MsgIDOnly{T: PUBREL, MsgID: p.MsgID}, PUBCOMP, p.MsgID); err != nil {
			return fmt.Errorf("mqttsn: publish %q: %w", t.Name, err)
		}
		return nil
	default:
		if err := c.write(p); err != nil {
			return fmt.Errorf("mqttsn: publish %q: %w", t.Name, err)
		}
		return nil
	}
}

// Subscribe subscribes to sub.Topic.Name and records sub for dispatch.
func (c *Client) Subscribe(ctx context.Context, sub *Subscription, flags Flags) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	id := c.nextMsgID()
	req := Subscribe{Flags: flags & qosMask, MsgID: id, TopicName: sub.Topic.Name}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	c.mu.Lock()
	c.joining = &joining{msgID: id, sub: sub}
	c.mu.Unlock()

	resp, err := c.roundTrip(ctx, req, SUBACK, id)
	c.mu.Lock()
	c.joining = nil
	c.mu.Unlock()
	if err != nil {
		// The SUBACK may have been admitted just as ctx ended.
		c.removeSub(sub)
		return fmt.Errorf("mqttsn: subscribe %q: %w", sub.Topic.Name, err)
	}
	return checkCode(SUBSCRIBE, resp.(Suback).ReturnCode)
}

func (c *Client) removeSub(sub *Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Unsubscribe removes a subscription made with Subscribe.
func (c *Client) Unsubscribe(ctx context.Context, sub *Subscription) error {
	c.mu.Lock()
	idx := -1
	for i, s := range c.subs {
		if s == sub {
			idx = i
			break
		}
	}
	c.mu.Unlock()
	if idx < 0 {
		return ErrNoSubscription
	}

	id := c.nextMsgID()
	req := Unsubscribe{MsgID: id, TopicName: sub.Topic.Name}
	if _, err := c.request(ctx, req, UNSUBACK, id); err != nil {
		return fmt.Errorf("mqttsn: unsubscribe %q: %w", sub.Topic.Name, err)
	}
	c.removeSub(sub)
	return nil
}

// Ping sends PINGREQ and waits for PINGRESP.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.request(ctx, Pingreq{}, PINGRESP, 0)
	return err
}

// Disconnect ends the session.
func (c *Client) Disconnect(ctx context.Context) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	_, err := c.request(ctx, Disconnect{}, DISCONNECT, 0)
	c.setConnected(false)
	if err != nil {
		return fmt.Errorf("mqttsn: disconnect: %w", err)
	}
	return nil
}
