package mqttsource

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"sleepywoodpecker/arff-collector/internal/dataset"
)

// SampleSink receives parsed samples.
type SampleSink interface {
	Ingest(x, y, z float64, sensor dataset.SensorTag) error
}

// Source ingests samples published on motion/<device>/<sensor> topics with "x,y,z" payloads.
type Source struct {
	client mqtt.Client
	topic  string
	qos    byte
	sink   SampleSink
	logger *zap.Logger
}

func New(sink SampleSink, topic string, qos int, logger *zap.Logger) *Source {
	return &Source{
		topic:  topic,
		qos:    byte(qos),
		sink:   sink,
		logger: logger,
	}
}

// Connect connects to the broker. The subscription is renewed on every (re)connect.
func (s *Source) Connect(broker, clientID string) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(fmt.Sprintf("%s-%d", clientID, time.Now().Unix()))
	opts.SetAutoReconnect(true)
	opts.OnConnect = s.onConnect
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		s.logger.Warn("[mqtt] connection lost", zap.Error(err), zap.String("broker", broker))
	}

	s.client = mqtt.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("[mqtt] connecting to %s: %w", broker, token.Error())
	}
	return nil
}

func (s *Source) onConnect(client mqtt.Client) {
	token := client.Subscribe(s.topic, s.qos, s.HandleMessage)
	if token.Wait() && token.Error() != nil {
		s.logger.Warn("[mqtt] subscribe failed", zap.Error(token.Error()), zap.String("topic", s.topic))
		return
	}
	s.logger.Info("[mqtt] subscribed", zap.String("topic", s.topic))
}

// Run keeps the connection until ctx is done.
func (s *Source) Run(ctx context.Context) error {
	<-ctx.Done()
	if s.client != nil {
		s.client.Disconnect(250)
	}
	s.logger.Info("[mqtt] disconnected")
	return nil
}

func (s *Source) HandleMessage(_ mqtt.Client, msg mqtt.Message) {
	sensor, err := ParseTopic(msg.Topic())
	if err != nil {
		s.logger.Warn("[mqtt] ignoring message", zap.Error(err), zap.String("topic", msg.Topic()))
		return
	}
	x, y, z, err := ParsePayload(msg.Payload())
	if err != nil {
		s.logger.Warn("[mqtt] ignoring message", zap.Error(err), zap.String("topic", msg.Topic()), zap.ByteString("payload", msg.Payload()))
		return
	}
	if err := s.sink.Ingest(x, y, z, sensor); err != nil {
		s.logger.Debug("[mqtt] sample not ingested", zap.Error(err), zap.String("topic", msg.Topic()))
	}
}

// ParseTopic takes the sensor from the last topic level.
func ParseTopic(topic string) (dataset.SensorTag, error) {
	levels := strings.Split(topic, "/")
	tag := dataset.SensorTag(levels[len(levels)-1])
	if !dataset.AllSensors.Contains(tag) {
		return "", fmt.Errorf("unknown sensor in topic %q", topic)
	}
	return tag, nil
}

func ParsePayload(payload []byte) (float64, float64, float64, error) {
	parts := strings.Split(strings.TrimSpace(string(payload)), ",")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("want 3 comma separated values, got %d", len(parts))
	}

	var axes [3]float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("axis %d: %w", i, err)
		}
		axes[i] = v
	}
	return axes[0], axes[1], axes[2], nil
}
