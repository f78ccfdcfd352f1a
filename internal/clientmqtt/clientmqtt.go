package clientmqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"dmxsync/internal/board"
	"dmxsync/internal/config"
	"dmxsync/internal/console"
	"dmxsync/internal/device"
	"dmxsync/internal/logger"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// ErrBadIntent is returned for intents with a missing or out of range field.
var ErrBadIntent = errors.New("bad intent")

// ClientMQTT структура клиента MQTT.
type ClientMQTT struct {
	ctx       context.Context
	log       *logger.Log
	cfgClient config.MQTTConf
	client    mqtt.Client
	opts      *mqtt.ClientOptions
	console   Console
	board     Board
	topics    map[nameTopic]intent
	publish   func(topic string, payload []byte)
	intents   chan message
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewClient конструктор. Пустой ClientID заменяется сгенерированным.
func NewClient(log logger.Logger, cfgClient config.MQTTConf, cons Console, brd Board) *ClientMQTT {
	if cfgClient.ClientID == "" {
		cfgClient.ClientID = "dmxsync-" + uuid.NewString()
	}
	c := &ClientMQTT{
		ctx:       context.Background(),
		log:       log.With(logger.Fields{"module": "mqtt"}),
		cfgClient: cfgClient,
		console:   cons,
		board:     brd,
		intents:   make(chan message, 64),
	}
	c.publish = c.publishRetained
	c.topics = map[nameTopic]intent{
		c.topic(TopicConsoleSet):    c.consoleSet,
		c.topic(TopicConsoleSelect): c.consoleSelect,
		c.topic(TopicConsoleOffset): c.consoleOffset,
		c.topic(TopicConsoleAll):    c.consoleAll,
		c.topic(TopicBrightness):    c.brightness,
	}
	return c
}

// ClientID returns the id used with the broker.
func (c *ClientMQTT) ClientID() string {
	return c.cfgClient.ClientID
}

func (c *ClientMQTT) topic(suffix string) nameTopic {
	return nameTopic(c.cfgClient.Prefix + "/" + suffix)
}

// Start подключается к брокеру. Подписки восстанавливаются при каждом подключении.
func (c *ClientMQTT) Start(ctx context.Context) error {
	if c.log.GetLevel() == "debug" {
		mqtt.ERROR = log.New(os.Stdout, "[ERROR] ", 0)
		mqtt.CRITICAL = log.New(os.Stdout, "[CRIT] ", 0)
		mqtt.WARN = log.New(os.Stdout, "[WARN]  ", 0)
	}

	c.startRouting(ctx)

	c.opts = mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%s", c.cfgClient.Schema, c.cfgClient.Host, c.cfgClient.Port)).
		SetUsername(c.cfgClient.User).
		SetPassword(c.cfgClient.Password).
		SetDefaultPublishHandler(c.messageHandler).
		SetOnConnectHandler(c.connectHandler).
		SetConnectionLostHandler(c.connectLostHandler).
		SetClientID(c.cfgClient.ClientID).
		SetOrderMatters(true).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)

	c.client = mqtt.NewClient(c.opts)

	token := c.client.Connect()
	select {
	case <-token.Done():
		if token.Error() != nil {
			return token.Error()
		}
	case <-c.ctx.Done():
		return errors.New("context canceled")
	}

	c.log.Infof("Status: %v", c.client.IsConnected())
	return nil
}

func (c *ClientMQTT) Stop() error {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(500)
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return nil
}

// startRouting запускает обработчик намерений. Намерения выполняются строго
// в порядке поступления, последнее значение слайдера записывается последним.
func (c *ClientMQTT) startRouting(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.routeIntents(c.ctx)
}

func (c *ClientMQTT) routeIntents(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-c.intents:
			if err := c.route(ctx, m.topic, m.payload); err != nil {
				c.log.Errorf("intent on %s dropped: %v", m.topic, err)
			}
		}
	}
}

func (c *ClientMQTT) connectHandler(_ mqtt.Client) {
	c.log.Info("client connected to server")
	for topic := range c.topics {
		c.sub(string(topic))
	}
}

func (c *ClientMQTT) connectLostHandler(_ mqtt.Client, err error) {
	c.log.Errorf("server connect lost: %v", err)
}

func (c *ClientMQTT) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	c.log.Debugf("received message: %s from topic: %s", msg.Payload(), msg.Topic())
	select {
	case c.intents <- message{topic: msg.Topic(), payload: msg.Payload()}:
	case <-c.ctx.Done():
	}
}

// route передает намерение в хранилище. Неизвестные топики и битые данные отбрасываются.
func (c *ClientMQTT) route(ctx context.Context, topic string, payload []byte) error {
	handle, ok := c.topics[nameTopic(topic)]
	if !ok {
		return fmt.Errorf("unknown topic %q", topic)
	}
	return handle(ctx, payload)
}

func (c *ClientMQTT) consoleSet(_ context.Context, payload []byte) error {
	var data Payload
	if err := json.Unmarshal(payload, &data); err != nil {
		return fmt.Errorf("message could not be parsed: %w", err)
	}
	for _, cmd := range data {
		if cmd.Channel > device.MaxChannelIndex {
			return fmt.Errorf("%w: channel %d", ErrBadIntent, cmd.Channel)
		}
	}
	for _, cmd := range data {
		c.console.SetChannel(int(cmd.Channel), int(cmd.Value))
	}
	return nil
}

func (c *ClientMQTT) consoleSelect(_ context.Context, payload []byte) error {
	var m bufferMsg
	if err := json.Unmarshal(payload, &m); err != nil {
		return fmt.Errorf("message could not be parsed: %w", err)
	}
	if m.Buffer == nil {
		return fmt.Errorf("%w: buffer missing", ErrBadIntent)
	}
	c.console.SelectBuffer(*m.Buffer)
	return nil
}

func (c *ClientMQTT) consoleOffset(_ context.Context, payload []byte) error {
	var m offsetMsg
	if err := json.Unmarshal(payload, &m); err != nil {
		return fmt.Errorf("message could not be parsed: %w", err)
	}
	if m.Offset == nil {
		return fmt.Errorf("%w: offset missing", ErrBadIntent)
	}
	c.console.SetOffset(*m.Offset)
	return nil
}

func (c *ClientMQTT) consoleAll(ctx context.Context, payload []byte) error {
	v, err := parseValue(payload)
	if err != nil {
		return err
	}
	return c.console.SetAll(ctx, uint8(v))
}

func (c *ClientMQTT) brightness(_ context.Context, payload []byte) error {
	v, err := parseValue(payload)
	if err != nil {
		return err
	}
	c.board.SetStatusLedBrightness(v)
	return nil
}

func parseValue(payload []byte) (int, error) {
	var m valueMsg
	if err := json.Unmarshal(payload, &m); err != nil {
		return 0, fmt.Errorf("message could not be parsed: %w", err)
	}
	if m.Value == nil || *m.Value < 0 || *m.Value > 255 {
		return 0, fmt.Errorf("%w: value must be in [0, 255]", ErrBadIntent)
	}
	return *m.Value, nil
}

func (c *ClientMQTT) sub(topic string) {
	token := c.client.Subscribe(topic, c.cfgClient.Qos, nil)
	go func() {
		select {
		case <-c.ctx.Done():
			return
		case <-token.Done():
			if token.Error() != nil {
				c.log.Errorf("topic %s subscription error. %v", topic, token.Error())
				return
			}
		}
		c.log.Debugf("topic %s subscribed", topic)
	}()
}

// PublishConsole публикует состояние консоли и текущее окно каналов.
func (c *ClientMQTT) PublishConsole(snap console.Snapshot) {
	c.publishJSON(TopicStateConsole, snap)
	c.publishJSON(TopicStateWindow, snap.Window())
}

// PublishBoard публикует изменившуюся часть состояния платы.
func (c *ClientMQTT) PublishBoard(key string, snap board.Snapshot) {
	var v interface{}
	switch key {
	case board.KeyOverview:
		v = struct {
			device.Overview
			BrightnessFailed bool `json:"brightnessFailed"`
		}{snap.Overview, snap.BrightnessFailed}
	case board.KeyIoBoards:
		v = snap.IoBoards
	case board.KeyWireless:
		v = snap.Wireless
	case board.KeyStatusLeds:
		v = snap.StatusLeds
	case board.KeySpectrum:
		v = snap.Spectrum
	case board.KeyLog:
		c.publishJSON(TopicStateLog, c.board.Log())
		return
	default:
		return
	}
	c.publishJSON(TopicStateBoardRoot+key, v)
}

func (c *ClientMQTT) publishJSON(suffix string, v interface{}) {
	msg, err := json.Marshal(v)
	if err != nil {
		c.log.Errorf("public topic %s. msg: %v", suffix, err)
		return
	}
	c.publish(string(c.topic(suffix)), msg)
}

func (c *ClientMQTT) publishRetained(topic string, msg []byte) {
	if c.client == nil || !c.client.IsConnected() {
		return
	}
	token := c.client.Publish(topic, c.cfgClient.Qos, true, msg)
	go func() {
		select {
		case <-c.ctx.Done():
		case <-token.Done():
			if token.Error() != nil {
				c.log.Errorf("error publish topic %s. %v", topic, token.Error())
			}
		}
	}()
}
