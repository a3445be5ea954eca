package printer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/filaman/spoolscale/internal/infrastructure/config"
	"github.com/filaman/spoolscale/internal/infrastructure/mqtt"
)

const (
	username = "bblp"
	qos      = 0
)

// ErrDisabled is returned by calls on a printer that is not configured.
var ErrDisabled = errors.New("printer: not configured")

// Transport is the MQTT connection to the printer.
type Transport interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
	Close() error
}

// Logger defines the logging interface used by the Printer.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Printer tracks one printer's AMS and sets tray filaments.
type Printer struct {
	transport Transport
	serial    string
	model     Model
	seq       atomic.Int64

	mu  sync.RWMutex
	ams []AMS

	logger Logger
}

// Connect opens the printer's MQTT channel: TLS on the configured port,
// user bblp, the LAN access code as password.
//
// Parameters:
//   - cfg: Printer address, serial, access code and model
//
// Returns:
//   - *Printer: printer on a connected channel; call Start to subscribe
//   - error: ErrDisabled when no printer is configured, or the
//     connection error
func Connect(cfg config.PrinterConfig) (*Printer, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	client, err := mqtt.Connect(mqtt.Options{
		Host:               cfg.Host,
		Port:               cfg.Port,
		TLS:                true,
		InsecureSkipVerify: true,
		ClientID:           "spoolscale-" + cfg.Serial,
		Username:           username,
		Password:           cfg.AccessCode,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to printer %s: %w", cfg.Host, err)
	}
	return New(client, cfg.Serial, ParseModel(cfg.Model)), nil
}

// New creates a Printer on an established transport.
func New(t Transport, serial string, model Model) *Printer {
	return &Printer{transport: t, serial: serial, model: model, logger: noopLogger{}}
}

// SetLogger sets the logger for the printer.
func (p *Printer) SetLogger(logger Logger) {
	p.logger = logger
}

func (p *Printer) reportTopic() string  { return "device/" + p.serial + "/report" }
func (p *Printer) requestTopic() string { return "device/" + p.serial + "/request" }

// Start subscribes to the printer's reports and asks for a full status push.
func (p *Printer) Start() error {
	if err := p.transport.Subscribe(p.reportTopic(), qos, p.handleReport); err != nil {
		return fmt.Errorf("subscribing to printer reports: %w", err)
	}
	pushall := fmt.Sprintf(`{"pushing":{"sequence_id":"%d","command":"pushall"}}`, p.seq.Add(1))
	if err := p.transport.Publish(p.requestTopic(), []byte(pushall), qos, false); err != nil {
		return fmt.Errorf("requesting printer status: %w", err)
	}
	p.logger.Info("printer channel started", "serial", p.serial, "model", p.model.String())
	return nil
}

func (p *Printer) handleReport(_ string, payload []byte) error {
	units, ok := ParseReport(payload)
	if !ok {
		return nil
	}

	p.mu.Lock()
	p.ams = units
	p.mu.Unlock()
	p.logger.Debug("printer AMS updated", "units", len(units))
	return nil
}

// AMS returns the last reported AMS units.
func (p *Printer) AMS() []AMS {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]AMS, len(p.ams))
	for i, a := range p.ams {
		out[i] = AMS{ID: a.ID, Trays: append([]Tray(nil), a.Trays...)}
	}
	return out
}

// Model returns the configured printer model.
func (p *Printer) Model() Model {
	return p.model
}

// Connected reports whether the MQTT channel is up.
func (p *Printer) Connected() bool {
	return p.transport.IsConnected()
}

// SetSpool loads s into its tray, then selects its flow calibration when
// it has one.
//
// Parameters:
//   - s: Tray, filament type, colour and temperature range
//
// Returns:
//   - error: ErrInvalidSetting, or the publish error
func (p *Printer) SetSpool(s SpoolSetting) error {
	cmd, err := s.Command(int(p.seq.Add(1)))
	if err != nil {
		return err
	}
	if err := p.transport.Publish(p.requestTopic(), cmd, qos, false); err != nil {
		return fmt.Errorf("sending filament setting: %w", err)
	}

	cali, err := s.CalibrationCommand(int(p.seq.Add(1)))
	if err != nil {
		p.logger.Warn("skipping calibration selection", "error", err)
		return nil
	}
	if cali != nil {
		if err := p.transport.Publish(p.requestTopic(), cali, qos, false); err != nil {
			return fmt.Errorf("sending calibration selection: %w", err)
		}
	}

	p.logger.Info("spool set on printer",
		"ams_id", s.AMSID,
		"tray_id", s.TrayID,
		"type", s.Type,
		"color", normalizeColor(s.Color),
	)
	return nil
}

// Close disconnects from the printer.
func (p *Printer) Close() error {
	return p.transport.Close()
}
