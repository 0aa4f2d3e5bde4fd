// Command qcomponentctl queries a component server over HTTP, or over the
// stdio of a server it starts itself with -exec.
//
//	qcomponentctl introspect [Component...]
//	qcomponentctl get Movie inception
//	qcomponentctl call Catalog find '{"year": 2001}'
//	qcomponentctl query '{"Counter": {"introspect=>": {"()": []}}}'
//	qcomponentctl -exec "qcomponentd -stdio" call Catalog count
//
// Method arguments and queries are JSON. Results are printed as JSON in
// their wire form.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/time/rate"

	"github.com/CrimsonAS/qcomponent/client"
	"github.com/CrimsonAS/qcomponent/config"
	"github.com/CrimsonAS/qcomponent/logging"
	"github.com/CrimsonAS/qcomponent/query"
	"github.com/CrimsonAS/qcomponent/selector"
	"github.com/CrimsonAS/qcomponent/serialize"
	"github.com/CrimsonAS/qcomponent/transport"
	"github.com/CrimsonAS/qcomponent/transport/httptransport"
	"github.com/CrimsonAS/qcomponent/transport/stream"
	"github.com/CrimsonAS/qcomponent/wire"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "qcomponentctl: %v\n", err)
		var we *wire.Error
		if errors.As(err, &we) && we.Code != "" {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func usage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), `usage: qcomponentctl [flags] command [arguments]

commands:
  introspect [Component...]          describe the exposed components
  get Component id                   read every readable attribute of an instance
  call Component method [json...]    call a static method
  query json                         send a raw query

flags:
`)
	fs.PrintDefaults()
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("qcomponentctl", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a TOML or YAML configuration file")
	url := fs.String("url", "", "server URL, overriding the configuration")
	codec := fs.String("codec", "", "json or msgpack, overriding the configuration")
	command := fs.String("exec", "", "start this server command and talk to it over its stdio instead of HTTP")
	fs.Usage = func() { usage(fs) }
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	if *url != "" {
		cfg.Client.URL = *url
	}
	if *codec != "" {
		cfg.Client.Codec = *codec
	}
	cfg.Log.Level = "warn"
	logging.ApplyEnv(&cfg.Log)
	logging.Install(cfg.Log)

	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("missing command")
	}
	sender, closeSender, err := newSender(cfg.Client, *command)
	if err != nil {
		return err
	}
	defer closeSender()
	cl := newClient(cfg.Client, sender)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Client.Timeout)
	defer cancel()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	var result interface{}
	switch cmd {
	case "introspect":
		result, err = introspect(ctx, cl, rest)
	case "get":
		result, err = get(ctx, cl, rest)
	case "call":
		result, err = call(ctx, cl, rest)
	case "query":
		result, err = rawQuery(ctx, cl, rest)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s\n", data)
	return err
}

func newSender(cfg config.ClientConfig, command string) (transport.Sender, func(), error) {
	if args := strings.Fields(command); len(args) > 0 {
		p, err := stream.Exec(exec.Command(args[0], args[1:]...))
		if err != nil {
			return nil, nil, err
		}
		return p, func() { _ = p.Close() }, nil
	}
	codec, err := wire.CodecNamed(cfg.Codec)
	if err != nil {
		return nil, nil, err
	}
	sender := httptransport.NewSender(cfg.URL)
	sender.Codec = codec
	sender.Client = &http.Client{Timeout: cfg.Timeout}
	return sender, func() {}, nil
}

func newClient(cfg config.ClientConfig, sender transport.Sender) *client.Client {
	opts := []client.Option{
		client.WithLogger(logging.For("client")),
		client.WithRetry(client.RetryPolicy{
			MaxRetries:    cfg.MaxRetries,
			MinRetryDelay: cfg.MinRetryDelay,
			ShouldRetry:   httptransport.ShouldRetry,
		}),
	}
	if cfg.Version > 0 {
		opts = append(opts, client.WithVersion(cfg.Version))
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, client.WithRateLimit(rate.Limit(cfg.RateLimit), cfg.RateBurst))
	}
	return client.New(sender, opts...)
}

func introspect(ctx context.Context, cl *client.Client, names []string) (interface{}, error) {
	filter := make([]interface{}, len(names))
	for i, name := range names {
		filter[i] = name
	}
	args := []interface{}{}
	if len(filter) > 0 {
		args = append(args, filter)
	}
	return cl.Do(ctx, wire.NewMap().Set("introspect=>", wire.NewMap().Set(query.KeyArguments, args)))
}

func get(ctx context.Context, cl *client.Client, args []string) (interface{}, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("get: expected a component and an identifier")
	}
	if err := cl.Connect(ctx); err != nil {
		return nil, err
	}
	class, ok := cl.Component(args[0])
	if !ok {
		return nil, fmt.Errorf("get: unknown component %q", args[0])
	}
	id := class.PrimaryIdentifier()
	if id == nil {
		return nil, fmt.Errorf("get: component %q has no identifier", args[0])
	}
	inst := class.Instantiate()
	if err := inst.Set(id.Name, args[1]); err != nil {
		return nil, err
	}
	if err := cl.Load(ctx, inst, selector.True); err != nil {
		return nil, err
	}
	return wireForm(inst)
}

func call(ctx context.Context, cl *client.Client, args []string) (interface{}, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("call: expected a component and a method")
	}
	values := make([]interface{}, len(args)-2)
	for i, raw := range args[2:] {
		if err := json.Unmarshal([]byte(raw), &values[i]); err != nil {
			return nil, fmt.Errorf("call: argument %d: %w", i, err)
		}
	}
	if err := cl.Connect(ctx); err != nil {
		return nil, err
	}
	class, ok := cl.Component(args[0])
	if !ok {
		return nil, fmt.Errorf("call: unknown component %q", args[0])
	}
	result, err := cl.Call(ctx, class, args[1], values...)
	if err != nil {
		return nil, err
	}
	return wireForm(result)
}

func rawQuery(ctx context.Context, cl *client.Client, args []string) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("query: expected one JSON query")
	}
	q := wire.NewMap()
	if err := json.Unmarshal([]byte(args[0]), q); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return cl.Do(ctx, q)
}

// wireForm serializes a value received by the client back to its JSON
// form for printing.
func wireForm(v interface{}) (interface{}, error) {
	return serialize.Serialize(v, serialize.Options{Selector: selector.True, IncludeNewMarker: true})
}
