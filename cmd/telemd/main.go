package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"flag"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/golang/glog"
	"github.com/golang/protobuf/proto"
	uuid "github.com/satori/go.uuid"
	yaml "gopkg.in/yaml.v2"

	"github.com/uavtalks/telem.go/pkg/env"
	fx "github.com/uavtalks/telem.go/pkg/framework"
	"github.com/uavtalks/telem.go/pkg/msgs"
	"github.com/uavtalks/telem.go/pkg/objcfg"
	"github.com/uavtalks/telem.go/pkg/objlog"
	"github.com/uavtalks/telem.go/pkg/port"
	"github.com/uavtalks/telem.go/pkg/port/mqtt"
	"github.com/uavtalks/telem.go/pkg/port/serial"
	"github.com/uavtalks/telem.go/pkg/port/ws"
	"github.com/uavtalks/telem.go/pkg/talk"
	"github.com/uavtalks/telem.go/pkg/talk/linetalk"
	"github.com/uavtalks/telem.go/pkg/telemetry"
	"github.com/uavtalks/telem.go/pkg/uavobj"
	"github.com/uavtalks/telem.go/pkg/uavobj/memstore"
)

type serialConfig struct {
	Device string `yaml:"device"`
	Baud   uint   `yaml:"baud"`
}

type logConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

type config struct {
	Vehicle string `yaml:"vehicle"`
	// Objects names the object set definition file.
	Objects string `yaml:"objects"`
	// Broker announces the vehicle and carries a brokered port,
	// empty disables.
	Broker string `yaml:"broker"`
	// Listen accepts a ground websocket, empty disables.
	Listen string `yaml:"listen"`
	WSPath string `yaml:"ws_path"`
	// Serial ports join the main link, Radio ports the radio link.
	Serial []serialConfig `yaml:"serial"`
	Radio  []serialConfig `yaml:"radio"`
	// Log persists logged object snapshots, empty path disables.
	Log             logConfig `yaml:"log"`
	NoPriorityQueue bool      `yaml:"no_priority_queue"`
}

var (
	configPath string

	conf = config{
		Broker: "mqtt://localhost:1883/uav/",
		Listen: ":8080",
		WSPath: "/telemetry",
	}
)

func init() {
	if val := os.Getenv("TELEM_VEHICLE"); val != "" {
		conf.Vehicle = val
	}
	if val := os.Getenv("TELEM_BROKER_URL"); val != "" {
		conf.Broker = val
	}
	flag.StringVar(&configPath, "config", configPath, "Config file.")
	flag.StringVar(&conf.Vehicle, "vehicle", conf.Vehicle, "Vehicle name.")
	flag.StringVar(&conf.Broker, "broker", conf.Broker, "MQTT broker URL, empty disables.")
	flag.StringVar(&conf.Listen, "listen", conf.Listen, "Websocket listen address, empty disables.")
	flag.StringVar(&conf.Objects, "objects", conf.Objects, "Object set definition file.")
}

func loadConfig() {
	if configPath == "" {
		return
	}
	data, err := ioutil.ReadFile(configPath)
	if err != nil {
		log.Fatalln(err)
	}
	if err := yaml.UnmarshalStrict(data, &conf); err != nil {
		log.Fatalln(err)
	}
	// explicit flags win over the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "vehicle":
			conf.Vehicle = f.Value.String()
		case "broker":
			conf.Broker = f.Value.String()
		case "listen":
			conf.Listen = f.Value.String()
		case "objects":
			conf.Objects = f.Value.String()
		}
	})
}

func main() {
	flag.Parse()
	loadConfig()
	if conf.Vehicle == "" {
		conf.Vehicle = env.MachineID()
	}
	if conf.WSPath == "" {
		conf.WSPath = "/telemetry"
	}

	store := memstore.New()
	status, err := telemetry.RegisterStatusObjects(store)
	if err != nil {
		log.Fatalln(err)
	}
	alarm := newLinkAlarm(store)
	if conf.Objects != "" {
		f, err := objcfg.Load(conf.Objects)
		if err != nil {
			log.Fatalln(err)
		}
		if err := f.Register(store); err != nil {
			log.Fatalln(err)
		}
	}

	// the acceptor leads the main port order: an attached ground
	// station takes over from the standing transports
	var mainPorts []port.Port
	var acceptor *ws.Acceptor
	if conf.Listen != "" {
		acceptor = ws.NewAcceptor()
		mainPorts = append(mainPorts, acceptor)
	}
	mainPorts = append(mainPorts, openSerial(conf.Serial)...)

	var queue *mqtt.Queue
	prefix := ""
	if conf.Broker != "" {
		opts, pfx, err := mqtt.ClientOptionsFromURL(conf.Broker)
		if err != nil {
			log.Fatalln(err)
		}
		prefix = pfx
		opts.SetBinaryWill(prefix+mqtt.AnnounceTopic(conf.Vehicle), nil, 1, true)
		if opts.ClientID == "" {
			opts.SetClientID("telem:" + conf.Vehicle)
		}
		queue = mqtt.NewQueueWith(opts, prefix)
		if err := queue.Connect(); err != nil {
			glog.Warningf("mqtt connect: %v", err)
		}
		mainPorts = append(mainPorts,
			mqtt.NewPort(queue, mqtt.UpTopic(conf.Vehicle), mqtt.DownTopic(conf.Vehicle)))
	}
	if len(mainPorts) == 0 {
		log.Fatalln("no main ports configured")
	}

	var radio *telemetry.LinkConfig
	if ports := openSerial(conf.Radio); len(ports) > 0 {
		radio = &telemetry.LinkConfig{Name: "radio", Ports: ports, Session: newSession}
	}

	moduleConf := telemetry.Config{
		Registry:        store,
		Objects:         status,
		Main:            telemetry.LinkConfig{Name: "main", Ports: mainPorts, Session: newSession},
		Radio:           radio,
		Alarms:          alarm,
		NoPriorityQueue: conf.NoPriorityQueue,
	}
	if conf.Log.Path != "" {
		olog := objlog.New(objlog.Config{
			Path:       conf.Log.Path,
			MaxSizeMB:  conf.Log.MaxSizeMB,
			MaxBackups: conf.Log.MaxBackups,
		})
		defer olog.Close()
		moduleConf.Log = olog
	}
	module, err := telemetry.New(moduleConf)
	if err != nil {
		log.Fatalln(err)
	}

	runner := fx.NewRunner().HandleSignals()
	runner.Go(module)
	if acceptor != nil {
		mux := http.NewServeMux()
		mux.Handle(conf.WSPath, acceptor.Handler())
		runner.Go(httpTask{srv: &http.Server{Addr: conf.Listen, Handler: mux}})
	}
	if queue != nil {
		ann := &msgs.Announce{
			Vehicle:     conf.Vehicle,
			Machine:     env.MachineID(),
			Session:     uuid.NewV4().String(),
			StartedUnix: time.Now().Unix(),
			Topics: &msgs.TopicPair{
				Up:   prefix + mqtt.UpTopic(conf.Vehicle),
				Down: prefix + mqtt.DownTopic(conf.Vehicle),
			},
		}
		announcer, err := mqtt.NewAnnouncer(queue, ann)
		if err != nil {
			log.Fatalln(err)
		}
		runner.Go(announcer, newStatusTask(queue, conf.Vehicle, status.FlightStats, alarm))
		defer queue.Close()
	}
	if err := runner.Wait(); err != nil {
		log.Fatalln(err)
	}
}

func newSession(reg uavobj.Registry, tx talk.TransmitFunc) talk.Session {
	return linetalk.New(reg, tx)
}

func openSerial(configs []serialConfig) []port.Port {
	var ports []port.Port
	for _, sc := range configs {
		baud := sc.Baud
		if baud == 0 {
			baud = 57600
		}
		p, err := serial.Open(sc.Device, baud)
		if err != nil {
			glog.Warningf("serial %s: %v", sc.Device, err)
			continue
		}
		ports = append(ports, p)
	}
	return ports
}

// alarmValue is the SystemAlarms object value.
type alarmValue struct {
	TelemetryLink string
}

// linkAlarm mirrors the telemetry link health into the SystemAlarms
// object, which pushes on change.
type linkAlarm struct {
	obj uavobj.Object
}

func newLinkAlarm(store *memstore.Store) *linkAlarm {
	obj := store.MustRegister(memstore.Spec{
		Name:     "SystemAlarms",
		Priority: true,
		Value:    alarmValue{TelemetryLink: "error"},
		Meta: uavobj.Metadata{
			TelemetryUpdateMode: uavobj.OnChange,
			LoggingUpdateMode:   uavobj.Manual,
		},
	})
	return &linkAlarm{obj: obj}
}

// ClearAlarm implements telemetry.AlarmClearer.
func (a *linkAlarm) ClearAlarm(name string) {
	if name == telemetry.AlarmTelemetryLink {
		a.set("ok")
	}
}

func (a *linkAlarm) set(state string) {
	v, err := a.obj.Get(0)
	if err != nil {
		return
	}
	av, _ := v.(alarmValue)
	if av.TelemetryLink == state {
		return
	}
	av.TelemetryLink = state
	a.obj.Set(0, av)
}

type httpTask struct {
	srv *http.Server
}

// Name implements framework.Named.
func (t httpTask) Name() string { return "http" }

// Run implements framework.Runnable.
func (t httpTask) Run(ctx context.Context) error {
	err := fx.RunWithContextCloser(ctx, t.srv, func() error {
		return t.srv.ListenAndServe()
	})
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// statusTask republishes the connection digest on the broker whenever
// the monitor refreshes the status object, and raises the link alarm
// outside Connected.
type statusTask struct {
	queue   *mqtt.Queue
	topic   string
	vehicle string
	flight  uavobj.Object
	alarm   *linkAlarm
	events  *uavobj.Queue
}

func newStatusTask(queue *mqtt.Queue, vehicle string, flight uavobj.Object, alarm *linkAlarm) *statusTask {
	t := &statusTask{
		queue:   queue,
		topic:   vehicle + "/status",
		vehicle: vehicle,
		flight:  flight,
		alarm:   alarm,
		events:  uavobj.NewQueue(8),
	}
	flight.Connect(t.events, uavobj.Mask(uavobj.EventUpdated, uavobj.EventUpdatedManual))
	return t
}

// Name implements framework.Named.
func (t *statusTask) Name() string { return "link-status" }

// Run implements framework.Runnable.
func (t *statusTask) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.events.C():
			v, err := t.flight.Get(0)
			if err != nil {
				continue
			}
			fs, ok := v.(telemetry.FlightStats)
			if !ok {
				continue
			}
			if fs.Status != telemetry.Connected {
				t.alarm.set("error")
			}
			payload, err := proto.Marshal(&msgs.LinkStatus{
				Vehicle: t.vehicle,
				State:   fs.Status.String(),
				TxBytes: fs.TxBytes,
				RxBytes: fs.RxBytes,
				TxRate:  fs.TxDataRate,
				RxRate:  fs.RxDataRate,
			})
			if err != nil {
				continue
			}
			if err := t.queue.Pub(t.topic, payload); err != nil {
				glog.V(2).Infof("status publish: %v", err)
			}
		}
	}
}
