package options

import (
	"errors"
	"fmt"

	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/homepeer/internal/homepeer"
	"github.com/autopeer-io/homepeer/pkg/app"
	"github.com/autopeer-io/homepeer/pkg/command"
	"github.com/autopeer-io/homepeer/pkg/log"
	"github.com/autopeer-io/homepeer/pkg/options"
)

// TransportOptions select where commands are published and read from.
type TransportOptions struct {
	BrokerOptions   *options.BrokerOptions   `json:"broker" mapstructure:"broker"`
	MqttOptions     *options.MqttOptions     `json:"mqtt" mapstructure:"mqtt"`
	DispatchOptions *options.DispatchOptions `json:"dispatch" mapstructure:"dispatch"`
	Log             *log.Options             `json:"log" mapstructure:"log"`
}

func newTransportOptions() TransportOptions {
	return TransportOptions{
		BrokerOptions:   options.NewBrokerOptions(),
		MqttOptions:     options.NewMqttOptions(),
		DispatchOptions: options.NewDispatchOptions(),
		Log:             log.NewOptions(),
	}
}

func (o *TransportOptions) addFlags(fss *cliflag.NamedFlagSets) {
	o.BrokerOptions.AddFlags(fss.FlagSet("broker"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.DispatchOptions.AddFlags(fss.FlagSet("dispatch"))
	o.Log.AddFlags(fss.FlagSet("log"))
}

func (o *TransportOptions) errors() []error {
	errs := []error{}
	errs = append(errs, o.BrokerOptions.Validate()...)
	errs = append(errs, o.DispatchOptions.Validate()...)
	if o.DispatchOptions.Mode != options.DispatchLocal {
		errs = append(errs, o.MqttOptions.Validate()...)
	}
	errs = append(errs, o.Log.Validate()...)
	return errs
}

func (o *TransportOptions) LogOptions() *log.Options { return o.Log }

func (o *TransportOptions) config() *homepeer.Config {
	return &homepeer.Config{
		BrokerOptions:   o.BrokerOptions,
		MqttOptions:     o.MqttOptions,
		DispatchOptions: o.DispatchOptions,
	}
}

// ChatOptions configures the interactive assistant.
type ChatOptions struct {
	TransportOptions `mapstructure:",squash"`
	ModelOptions     *options.ModelOptions `json:"model" mapstructure:"model"`

	// HistorySize is the number of conversation turns kept for context.
	HistorySize int `json:"history-size" mapstructure:"history-size"`
}

var _ app.NamedFlagSetOptions = (*ChatOptions)(nil)

func NewChatOptions() *ChatOptions {
	return &ChatOptions{
		TransportOptions: newTransportOptions(),
		ModelOptions:     options.NewModelOptions(),
		HistorySize:      10,
	}
}

func (o *ChatOptions) Flags() (fss cliflag.NamedFlagSets) {
	fs := fss.FlagSet("assistant")
	fs.IntVar(&o.HistorySize, "history-size", o.HistorySize, "Number of conversation turns kept as context.")

	o.ModelOptions.AddFlags(fss.FlagSet("model"))
	o.addFlags(&fss)
	return fss
}

func (o *ChatOptions) Complete() error {
	return nil
}

func (o *ChatOptions) Validate() error {
	errs := o.errors()
	errs = append(errs, o.ModelOptions.Validate()...)
	if o.HistorySize <= 0 {
		errs = append(errs, fmt.Errorf("--history-size must be positive, got %d", o.HistorySize))
	}
	return app.ValidateAll(errs)
}

func (o *ChatOptions) Config() (*homepeer.Config, error) {
	cfg := o.config()
	cfg.ModelOptions = o.ModelOptions
	cfg.HistorySize = o.HistorySize
	return cfg, nil
}

// ServeOptions configures the HTTP API server.
type ServeOptions struct {
	ChatOptions `mapstructure:",squash"`
	HttpOptions *options.HttpOptions `json:"http" mapstructure:"http"`
}

var _ app.NamedFlagSetOptions = (*ServeOptions)(nil)

func NewServeOptions() *ServeOptions {
	o := &ServeOptions{
		ChatOptions: *NewChatOptions(),
		HttpOptions: options.NewHttpOptions(),
	}
	return o
}

func (o *ServeOptions) Flags() cliflag.NamedFlagSets {
	fss := o.ChatOptions.Flags()
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	return fss
}

func (o *ServeOptions) Validate() error {
	errs := []error{o.ChatOptions.Validate()}
	errs = append(errs, o.HttpOptions.Validate()...)
	return app.ValidateAll(errs)
}

func (o *ServeOptions) Config() (*homepeer.Config, error) {
	cfg, err := o.ChatOptions.Config()
	if err != nil {
		return nil, err
	}
	cfg.HttpOptions = o.HttpOptions
	return cfg, nil
}

// SimulateOptions configures the device simulator.
type SimulateOptions struct {
	TransportOptions `mapstructure:",squash"`

	FromStart bool `json:"from-start" mapstructure:"from-start"`
	// Feedback publishes the simulated device responses.
	Feedback bool `json:"feedback" mapstructure:"feedback"`
}

var _ app.NamedFlagSetOptions = (*SimulateOptions)(nil)

func NewSimulateOptions() *SimulateOptions {
	return &SimulateOptions{TransportOptions: newTransportOptions(), Feedback: true}
}

func (o *SimulateOptions) Flags() (fss cliflag.NamedFlagSets) {
	fs := fss.FlagSet("simulate")
	fs.BoolVar(&o.FromStart, "from-start", o.FromStart, "Replay commands already in the local broker log.")
	fs.BoolVar(&o.Feedback, "feedback", o.Feedback, "Publish device feedback on the feedback topic.")
	o.addFlags(&fss)
	return fss
}

func (o *SimulateOptions) Complete() error {
	return nil
}

func (o *SimulateOptions) Validate() error {
	return app.ValidateAll(o.errors())
}

func (o *SimulateOptions) Config() (*homepeer.Config, error) {
	return o.config(), nil
}

// PublishOptions configures a one-off command.
type PublishOptions struct {
	TransportOptions `mapstructure:",squash"`

	Type   string `json:"type" mapstructure:"type"`
	Action string `json:"action" mapstructure:"action"`
	Device string `json:"device" mapstructure:"device"`

	command command.Command
}

var _ app.NamedFlagSetOptions = (*PublishOptions)(nil)

func NewPublishOptions() *PublishOptions {
	return &PublishOptions{TransportOptions: newTransportOptions()}
}

func (o *PublishOptions) Flags() (fss cliflag.NamedFlagSets) {
	fs := fss.FlagSet("command")
	fs.StringVar(&o.Type, "type", o.Type, "Device type: light, ac, window or temperature (Chinese names accepted).")
	fs.StringVar(&o.Action, "action", o.Action, "Action: 开, 关 or 检测 (aliases such as open/off accepted). Temperature defaults to 检测.")
	fs.StringVar(&o.Device, "device", o.Device, "Optional device name, e.g. 客厅灯.")
	o.addFlags(&fss)
	return fss
}

// Complete resolves the aliases into a command.
func (o *PublishOptions) Complete() error {
	typ, err := command.ParseType(o.Type)
	if err != nil {
		return err
	}
	action, ok := command.DefaultAction(typ)
	if o.Action != "" || !ok {
		if action, err = command.ParseAction(o.Action); err != nil {
			return err
		}
	}
	o.command = command.Command{Type: typ, Device: o.Device, Action: action}
	return nil
}

func (o *PublishOptions) Validate() error {
	errs := o.errors()
	if err := o.command.Validate(); err != nil {
		errs = append(errs, err)
	}
	return app.ValidateAll(errs)
}

// Command returns the completed command, without timestamp.
func (o *PublishOptions) Command() command.Command { return o.command }

func (o *PublishOptions) Config() (*homepeer.Config, error) {
	return o.config(), nil
}

// TailOptions configures the broker log viewer.
type TailOptions struct {
	BrokerOptions *options.BrokerOptions `json:"broker" mapstructure:"broker"`
	MqttOptions   *options.MqttOptions   `json:"mqtt" mapstructure:"mqtt"`
	Log           *log.Options           `json:"log" mapstructure:"log"`

	FromStart bool   `json:"from-start" mapstructure:"from-start"`
	Follow    bool   `json:"follow" mapstructure:"follow"`
	Topic     string `json:"topic" mapstructure:"topic"`
}

var _ app.NamedFlagSetOptions = (*TailOptions)(nil)

func NewTailOptions() *TailOptions {
	return &TailOptions{
		BrokerOptions: options.NewBrokerOptions(),
		MqttOptions:   options.NewMqttOptions(),
		Log:           log.NewOptions(),
		FromStart:     true,
	}
}

func (o *TailOptions) Flags() (fss cliflag.NamedFlagSets) {
	fs := fss.FlagSet("log viewer")
	fs.BoolVar(&o.FromStart, "from-start", o.FromStart, "Print records already in the log.")
	fs.BoolVarP(&o.Follow, "follow", "f", o.Follow, "Keep printing new records as they are appended.")
	fs.StringVar(&o.Topic, "topic", o.Topic, "Topic filter; defaults to every topic under --mqtt.topic-root.")

	o.BrokerOptions.AddFlags(fss.FlagSet("broker"))
	fs = fss.FlagSet("mqtt")
	fs.StringVar(&o.MqttOptions.TopicRoot, "mqtt.topic-root", o.MqttOptions.TopicRoot, "Topic prefix for commands and feedback.")
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *TailOptions) Complete() error {
	if o.Topic == "" {
		o.Topic = o.MqttOptions.Topics().All()
	}
	return nil
}

func (o *TailOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.BrokerOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	if !o.FromStart && !o.Follow {
		errs = append(errs, errors.New("nothing to print: set --from-start or --follow"))
	}
	return app.ValidateAll(errs)
}

func (o *TailOptions) LogOptions() *log.Options { return o.Log }
