package pipeline

import (
	"fmt"
	"time"

	"routex/connect"
	"routex/internal/config"
	"routex/internal/manifest"
	"routex/internal/offset"
	"routex/internal/transform"
	"routex/sink"
	"routex/sink/stdout"

	_ "routex/sink/kafka"
	_ "routex/source/routesource"
)

const (
	defaultPollInterval  = 50 * time.Millisecond
	defaultFlushInterval = 5 * time.Second
)

func Compile(path string) (*Runner, error) {
	m, confPath, err := config.LoadManifest(path)
	if err != nil {
		return nil, err
	}
	return build(m, confPath)
}

// CompileBytes compiles a manifest held in memory; a relative source config
// path is resolved against baseDir.
func CompileBytes(raw []byte, baseDir string) (*Runner, error) {
	m, confPath, err := config.ParseManifest(raw, baseDir)
	if err != nil {
		return nil, err
	}
	return build(m, confPath)
}

func build(m manifest.File, confPath string) (*Runner, error) {
	name := m.Name
	if name == "" {
		name = m.Source.Class
	}
	r := NewRunner(name)
	r.tolerant = m.Tolerant()
	if m.PollIntervalMS > 0 {
		r.pollInterval = time.Duration(m.PollIntervalMS) * time.Millisecond
	}

	/*──────── source ───────*/
	props, err := config.LoadProperties(confPath, m.Source.Properties)
	if err != nil {
		return nil, err
	}
	task, err := connect.NewSourceTask(m.Source.Class)
	if err != nil {
		return nil, err
	}
	r.SetTask(task, props)

	/*──────── transforms ───────*/
	for _, t := range m.Transforms {
		tr, err := transform.New(t.Type, t.Options)
		if err != nil {
			return nil, fmt.Errorf("transform %s: %w", t.Name, err)
		}
		r.AddTransform(t.Name, tr)
	}

	/*──────── converters ───────*/
	if r.keyConv, err = connect.NewValueConverter(m.Converters.Key); err != nil {
		return nil, err
	}
	if r.valueConv, err = connect.NewValueConverter(m.Converters.Value); err != nil {
		return nil, err
	}
	if r.headerConv, err = connect.NewHeaderConverter(m.Converters.Header); err != nil {
		return nil, err
	}

	/*──────── sinks ───────*/
	for _, sname := range m.Sinks {
		sDrv, err := sink.NewAdapter(sname)
		if err != nil {
			r.closeSinks()
			return nil, err
		}

		block, ok := m.SinkConfigs[sname]
		switch {
		case ok:
			err = sDrv.Configure(block)
		case sname == "stdout":
			err = sDrv.Configure(stdout.Config{
				DelayMS:      m.Debug.PerRecordDelayMS,
				PrintCounter: m.Debug.PrintCounter,
				PrintValue:   m.Debug.PrintValue,
				BatchSize:    m.Debug.AckBatchSize,
				FlushMS:      m.Debug.AckFlushMS,
			})
		default:
			err = fmt.Errorf("no config block for sink %q", sname)
		}
		if err != nil {
			r.closeSinks()
			return nil, fmt.Errorf("sink %s: %w", sname, err)
		}
		r.AddSink(sname, sDrv)
	}

	/*──────── offsets ───────*/
	storeCfg := m.Offsets.Store
	if storeCfg.Namespace == "" {
		storeCfg.Namespace = name
	}
	store, err := offset.NewStore(storeCfg)
	if err != nil {
		r.closeSinks()
		return nil, err
	}
	storeName := storeCfg.Type
	if storeName == "" {
		storeName = "memory"
	}
	flush := defaultFlushInterval
	if m.Offsets.FlushIntervalMS > 0 {
		flush = time.Duration(m.Offsets.FlushIntervalMS) * time.Millisecond
	}
	r.SetOffsetStore(store, storeName, flush)
	return r, nil
}
