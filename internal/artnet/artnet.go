// Package artnet mirrors the selected DMX buffer onto an Art-Net network.
package artnet

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"dmxsync/internal/config"
	"dmxsync/internal/console"
	"dmxsync/internal/logger"
	"github.com/Haba1234/go-artnet"
)

// ArtNet is transport for the ArtNet protocol (DMX over UDP/IP).
type ArtNet struct {
	logger      *logger.Log
	cfg         config.ArtNetConf
	sender      sender
	nodes       func() []*artnet.ControlledNode
	sendTrigger chan Frame
	wg          sync.WaitGroup
	cancel      context.CancelFunc
}

// NewController creates the mirror on the interface inside cfg.Network.
func NewController(log logger.Logger, cfg config.ArtNetConf) (*ArtNet, error) {
	ip, err := FindArtNetIP(cfg.Network)
	if err != nil {
		return nil, fmt.Errorf("failed to find the art-net IP: %w", err)
	}

	if len(ip) == 0 {
		return nil, errors.New("failed to find the art-net IP: No interface found")
	}

	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve hostname: %w", err)
	}

	host = strings.ToLower(strings.Split(host, ".")[0])
	log.With(logger.Fields{"module": "art-net"}).Infof("Using ArtNet IP %s and hostname %s", ip.String(), host)

	controller := artnet.NewController(host, ip, artnet.NewDefaultLogger(log.GetLevel()), artnet.MaxFPS(cfg.MaxFPS))
	c := newArtNet(log, cfg, controller)
	c.nodes = func() []*artnet.ControlledNode { return controller.Nodes }
	return c, nil
}

func newArtNet(log logger.Logger, cfg config.ArtNetConf, s sender) *ArtNet {
	return &ArtNet{
		logger:      log.With(logger.Fields{"module": "art-net"}),
		cfg:         cfg,
		sender:      s,
		sendTrigger: make(chan Frame, 16),
	}
}

// Start the ArtNet.
func (c *ArtNet) Start(ctx context.Context) error {
	if err := c.sender.Start(); err != nil {
		return fmt.Errorf("failed to start Controller: %w", err)
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(2)
	go c.sendBackground(ctx)
	go c.debugDevices(ctx)
	return nil
}

// Stop the ArtNet.
func (c *ArtNet) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.sender.Stop()
}

// Mirror queues the selected buffer of snap for sending. Buffers that were
// never fetched are not sent.
func (c *ArtNet) Mirror(snap console.Snapshot) {
	if !snap.Loaded {
		return
	}
	f := Frame{Universe: c.cfg.UniverseBase + uint16(snap.SelectedBuffer), Data: snap.Values}
	for {
		select {
		case c.sendTrigger <- f:
			return
		default:
		}
		// очередь полна: выбрасываем самый старый кадр
		select {
		case old := <-c.sendTrigger:
			c.logger.Debugf("DMX. Кадр для universe %d вытеснен", old.Universe)
		default:
		}
	}
}

func (c *ArtNet) sendBackground(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-c.sendTrigger:
			c.logger.Debugf("DMX. Отправка в контроллер по адресу %v", f.Universe)
			c.sender.SendDMXToAddress(f.Data, universeToAddress(f.Universe))
		}
	}
}

// universeToAddress converts a 15 bit universe to an art-net address:
// старший байт - Net, младший байт - SubUni.
func universeToAddress(universe uint16) artnet.Address {
	v := make([]uint8, 2)
	binary.BigEndian.PutUint16(v, universe)

	return artnet.Address{
		Net:    v[0] & 0x7f,
		SubUni: v[1],
	}
}

// NodeToString returns a string representation of the given Node.
func NodeToString(n *artnet.ControlledNode) string {
	var inputs, outputs []string

	for _, p := range n.Node.InputPorts {
		inputs = append(inputs, fmt.Sprintf("%s: %s", p.Address.String(), p.Type.String()))
	}

	for _, p := range n.Node.OutputPorts {
		outputs = append(outputs, fmt.Sprintf("%s: %s", p.Address.String(), p.Type.String()))
	}

	return fmt.Sprintf(
		" | IP=%s name=%q type=%q manufacturer=%q desc=%q inputs=%q outputs=%q",
		n.UDPAddress.String(), n.Node.Name, n.Node.Type,
		n.Node.Manufacturer, n.Node.Description,
		strings.Join(inputs, "; "), strings.Join(outputs, "; "),
	)
}

func (c *ArtNet) debugDevices(ctx context.Context) {
	defer c.wg.Done()
	if c.nodes == nil {
		return
	}
	t := time.NewTicker(30 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		nodes := c.nodes()
		desc := make([]string, 0, len(nodes))
		for _, n := range nodes {
			desc = append(desc, NodeToString(n))
		}
		c.logger.Debugf("Currently %d devices are registered: %v", len(nodes), desc)
	}
}
