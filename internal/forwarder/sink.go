package forwarder

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Sink stores one batch. A returned error makes the forwarder retry.
type Sink interface {
	Write(ctx context.Context, b Batch) error
	Close() error
}

type HTTPConfig struct {
	URL                string
	AuthTokenEnv       string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// HTTPSink POSTs each batch as JSON to an archive backend.
type HTTPSink struct {
	endpoint string
	client   *http.Client
	token    string
}

func NewHTTPSink(cfg HTTPConfig) *HTTPSink {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify},
		},
	}

	token := ""
	if cfg.AuthTokenEnv != "" {
		token = os.Getenv(cfg.AuthTokenEnv)
	}

	return &HTTPSink{endpoint: cfg.URL, client: client, token: token}
}

func (s *HTTPSink) Write(ctx context.Context, b Batch) error {
	payload, err := json.Marshal(b.Records)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-ID", b.ID)
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	// drain to reuse the connection
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("archive backend: bad status %d", resp.StatusCode)
	}
	return nil
}

func (s *HTTPSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	Timeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes one message per record, keyed by the sample timestamp.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic not configured")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: int(kafka.RequireOne),
		WriteTimeout: timeout,
	})

	log.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("kafka sink initialized")
	return &KafkaSink{writer: w, topic: cfg.Topic}, nil
}

func (s *KafkaSink) Write(ctx context.Context, b Batch) error {
	msgs := make([]kafka.Message, 0, len(b.Records))
	for _, r := range b.Records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(strconv.FormatFloat(r.Sample.Timestamp, 'f', -1, 64)),
			Value: data,
			Headers: []kafka.Header{
				{Key: "correlation_id", Value: []byte(b.ID)},
			},
		})
	}
	return s.writer.WriteMessages(ctx, msgs...)
}

func (s *KafkaSink) Close() error {
	log.Info().Str("topic", s.topic).Msg("closing kafka sink")
	return s.writer.Close()
}
