// Package tuning holds the named values an operator adjusts while the
// robot runs: the teleop output limit and the open-loop ramp.
package tuning

import (
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
)

// MapStore is an in-memory tunable store. Absent keys read as zero.
type MapStore struct {
	mu     sync.RWMutex
	values map[string]float64
}

func NewMapStore() *MapStore {
	return &MapStore{values: make(map[string]float64)}
}

func (s *MapStore) Set(key string, v float64) {
	s.mu.Lock()
	s.values[key] = v
	s.mu.Unlock()
}

func (s *MapStore) Float(key string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key]
}

// Values returns a copy of the current values.
func (s *MapStore) Values() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

const connectTimeout = 5 * time.Second

// MQTTStore mirrors retained values published under <prefix>/<key> on an
// MQTT broker. Payloads are decimal floats; anything else is ignored.
type MQTTStore struct {
	*MapStore

	prefix string
	client mqtt.Client
	logger golog.Logger
}

// NewMQTTStore builds a store without connecting. Seed values stay in
// effect until the broker publishes a replacement.
func NewMQTTStore(prefix string, seed map[string]float64, logger golog.Logger) *MQTTStore {
	s := &MQTTStore{
		MapStore: NewMapStore(),
		prefix:   strings.TrimSuffix(prefix, "/"),
		logger:   logger,
	}
	for k, v := range seed {
		s.Set(k, v)
	}
	return s
}

// Connect dials broker (tcp://host:port) and subscribes to the prefix.
func (s *MQTTStore) Connect(broker, clientID string) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(time.Second)
	opts.OnConnect = func(c mqtt.Client) {
		// Resubscribe after every reconnect; the session is not persistent.
		tok := c.Subscribe(s.prefix+"/#", 1, s.handle)
		if tok.WaitTimeout(connectTimeout) && tok.Error() != nil {
			s.logger.Errorw("tuning subscribe failed", "prefix", s.prefix, "error", tok.Error())
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		s.logger.Warnw("tuning broker connection lost", "broker", broker, "error", err)
	}

	s.client = mqtt.NewClient(opts)
	tok := s.client.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return errors.Errorf("connect to %s timed out", broker)
	}
	if err := tok.Error(); err != nil {
		return errors.Wrapf(err, "connect to %s", broker)
	}
	s.logger.Infow("tuning store connected", "broker", broker, "prefix", s.prefix)
	return nil
}

// Publish sets key locally and, when connected, publishes it retained.
func (s *MQTTStore) Publish(key string, v float64) error {
	s.Set(key, v)
	if s.client == nil || !s.client.IsConnected() {
		return nil
	}
	tok := s.client.Publish(s.topic(key), 1, true, strconv.FormatFloat(v, 'g', -1, 64))
	if !tok.WaitTimeout(connectTimeout) {
		return errors.Errorf("publish %s timed out", key)
	}
	return errors.Wrapf(tok.Error(), "publish %s", key)
}

func (s *MQTTStore) Close() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}

func (s *MQTTStore) topic(key string) string { return s.prefix + "/" + key }

func (s *MQTTStore) handle(_ mqtt.Client, msg mqtt.Message) {
	key, ok := strings.CutPrefix(msg.Topic(), s.prefix+"/")
	if !ok || key == "" {
		return
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(msg.Payload())), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		s.logger.Warnw("ignoring non-numeric tuning value", "key", key, "payload", string(msg.Payload()))
		return
	}
	s.Set(key, v)
	s.logger.Debugw("tuning value updated", "key", key, "value", v)
}
