// Package mqtt 提供 MQTT 客户端封装
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Config MQTT 配置
type Config struct {
	Broker         string
	Port           int
	ClientID       string
	Username       string
	Password       string
	CleanSession   bool
	QoS            byte
	Retained       bool
	KeepAlive      int // 秒
	ConnectTimeout int // 秒
	AutoReconnect  bool
}

// Client MQTT 客户端，只用于发布事件
type Client struct {
	config *Config
	client mqtt.Client
	logger *zap.Logger
}

// NewClient 创建 MQTT 客户端
func NewClient(config *Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		config: config,
		logger: logger.Named("mqtt"),
	}
}

// Connect 连接 MQTT Broker
func (c *Client) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port))
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(c.config.CleanSession)
	opts.SetKeepAlive(time.Duration(c.config.KeepAlive) * time.Second)
	opts.SetAutoReconnect(c.config.AutoReconnect)
	if c.config.ConnectTimeout > 0 {
		opts.SetConnectTimeout(time.Duration(c.config.ConnectTimeout) * time.Second)
	}
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.client = mqtt.NewClient(opts)

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect error: %w", token.Error())
	}
	return nil
}

// Disconnect 断开连接
func (c *Client) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
		c.logger.Info("disconnected from broker")
	}
}

// IsConnected 检查是否已连接
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// PublishWithContext 发布消息，ctx 结束时放弃等待
func (c *Client) PublishWithContext(ctx context.Context, topic string, payload interface{}) error {
	if c.client == nil {
		return fmt.Errorf("mqtt client not connected")
	}

	data, err := encodePayload(payload)
	if err != nil {
		return err
	}

	token := c.client.Publish(topic, c.config.QoS, c.config.Retained, data)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("mqtt publish error: %w", token.Error())
		}
		return nil
	}
}

func encodePayload(payload interface{}) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("mqtt marshal payload error: %w", err)
		}
		return data, nil
	}
}

func (c *Client) onConnect(_ mqtt.Client) {
	c.logger.Info("connected to broker",
		zap.String("broker", c.config.Broker),
		zap.Int("port", c.config.Port),
	)
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn("connection lost", zap.Error(err))
}

func (c *Client) onReconnecting(_ mqtt.Client, _ *mqtt.ClientOptions) {
	c.logger.Info("reconnecting to broker")
}
