package sh

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	"github.com/uavtalks/telem.go/pkg/env/ground"
	fx "github.com/uavtalks/telem.go/pkg/framework"
	"github.com/uavtalks/telem.go/pkg/gcs"
	"github.com/uavtalks/telem.go/pkg/msgs"
	"github.com/uavtalks/telem.go/pkg/objcfg"
	"github.com/uavtalks/telem.go/pkg/port"
	"github.com/uavtalks/telem.go/pkg/talk"
	"github.com/uavtalks/telem.go/pkg/talk/linetalk"
	"github.com/uavtalks/telem.go/pkg/telemetry"
	"github.com/uavtalks/telem.go/pkg/uavobj"
	"github.com/uavtalks/telem.go/pkg/uavobj/memstore"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoConnect bool

	Shell  *ishell.Shell
	Config *ground.Config
	Conn   *VehicleConn
}

// VehicleConn is a live link to one vehicle.
type VehicleConn struct {
	Ctx     context.Context
	Cancel  func()
	Vehicle string
	Port    port.Port
	Store   *memstore.Store
	Status  telemetry.StatusObjects
	Session talk.Session
	Monitor *gcs.Monitor
	Runner  *fx.Runner
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

var (
	// flags

	evalOnly   bool
	outputJSON bool

	// commands
	commands = []*ishell.Cmd{
		&DiscoverCmd,
		&ConnectCmd,
		&DisconnectCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *ground.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Conn == nil {
			c.Err(fmt.Errorf("not connected"))
			return
		}
		fn(c)
	}
}

// FormatAnnounce prints a vehicle announce into a friendly string.
func FormatAnnounce(ann *msgs.Announce) string {
	started := time.Unix(ann.StartedUnix, 0).Format(time.Stamp)
	return fmt.Sprintf("%s: machine %s, up since %s", ann.Vehicle, ann.Machine, started)
}

// FindObject resolves an object by name on the current connection.
func FindObject(c *ishell.Context, name string) (uavobj.Object, bool) {
	s := ShellFrom(c)
	obj, ok := s.Conn.Store.GetByName(name)
	if !ok {
		c.Err(fmt.Errorf("unknown object %q", name))
		return nil, false
	}
	return obj, true
}

// ParseInst parses an instance argument; "all" addresses every
// instance of the object.
func ParseInst(c *ishell.Context, args []string) (uavobj.InstID, bool) {
	if len(args) == 0 {
		return 0, true
	}
	if args[0] == "all" {
		return uavobj.AllInstances, true
	}
	var inst uint16
	if _, err := fmt.Sscanf(args[0], "%d", &inst); err != nil {
		c.Err(fmt.Errorf("bad instance %q", args[0]))
		return 0, false
	}
	return uavobj.InstID(inst), true
}

// PrintValue prints one object instance value.
func PrintValue(c *ishell.Context, obj uavobj.Object, inst uavobj.InstID, value interface{}) {
	s := ShellFrom(c)
	if s.OutputJSON {
		out, err := json.Marshal(map[string]interface{}{
			"object": obj.Name(),
			"inst":   inst,
			"value":  value,
		})
		if err != nil {
			c.Err(err)
			return
		}
		c.Println(string(out))
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.Err(err)
		return
	}
	c.Printf("%s[%d] = %s\n", obj.Name(), inst, data)
}

// WithAutoConnect sets AutoConnect.
func (s *Shell) WithAutoConnect(en bool) *Shell {
	s.AutoConnect = en
	return s
}

// Discover lists the vehicles announced on the broker.
func (s *Shell) Discover() ([]*msgs.Announce, error) {
	return s.Config.Discover(context.TODO())
}

// SelectVehicle discovers vehicles and asks for a choice.
func (s *Shell) SelectVehicle() (string, error) {
	anns, err := s.Discover()
	if err != nil {
		return "", err
	}
	if len(anns) == 0 {
		return "", nil
	}
	var index int
	if len(anns) > 1 {
		if !s.Interactive {
			return "", fmt.Errorf("more than 1 vehicles discovered in non-interactive mode")
		}
		items := make([]string, len(anns))
		for n, ann := range anns {
			items[n] = FormatAnnounce(ann)
		}
		index = s.Shell.MultiChoice(items, "Which one to connect?")
	}
	return anns[index].Vehicle, nil
}

// Connect dials a vehicle and starts the link tasks.
func (s *Shell) Connect(vehicle string) error {
	p, err := s.Config.Dial(vehicle)
	if err != nil {
		return err
	}
	store := memstore.New()
	status, err := telemetry.RegisterStatusObjects(store)
	if err != nil {
		p.Close()
		return err
	}
	if s.Config.ObjectsFile != "" {
		f, err := objcfg.Load(s.Config.ObjectsFile)
		if err != nil {
			p.Close()
			return err
		}
		if err := f.Register(store); err != nil {
			p.Close()
			return err
		}
	}
	session := linetalk.New(store, p.Send)
	conn := &VehicleConn{
		Vehicle: vehicle,
		Port:    p,
		Store:   store,
		Status:  status,
		Session: session,
	}
	conn.Ctx, conn.Cancel = context.WithCancel(context.Background())
	conn.Monitor, err = gcs.NewMonitor(gcs.Config{
		Registry:    store,
		Session:     session,
		FlightStats: status.FlightStats,
		GroundStats: status.GCSStats,
	})
	if err != nil {
		conn.Cancel()
		p.Close()
		return err
	}
	conn.Runner = fx.NewRunnerWith(conn.Ctx).
		Go(conn.Monitor, &gcs.Pump{Session: session, Port: p})
	s.Disconnect()
	s.Conn = conn
	if vehicle == "" {
		vehicle = s.Config.Address
	}
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", vehicle))
	return nil
}

// Disconnect disconnects the current vehicle.
func (s *Shell) Disconnect() {
	if s.Conn == nil {
		return
	}
	conn := s.Conn
	s.Conn = nil
	conn.Cancel()
	conn.Port.Close()
	if err := conn.Runner.Wait(); err != nil {
		glog.V(2).Infof("sh: link tasks: %v", err)
	}
	s.Shell.SetPrompt(unconnectedPrompt)
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoConnect && (s.Config.Vehicle != "" || s.Config.Address != "") {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", s.Config.Vehicle)
		}
		if err := s.Connect(s.Config.Vehicle); err != nil {
			log.Fatalf("connect %q failed: %v", s.Config.Vehicle, err)
		}
	}

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		s.Disconnect()
		return
	}
	log.Fatalln("command expected")
}

var (
	// DiscoverCmd discovers vehicles.
	DiscoverCmd = ishell.Cmd{
		Name:    "discover",
		Aliases: []string{"list", "l"},
		Help:    "",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			anns, err := s.Discover()
			if err != nil {
				c.Err(err)
				return
			}
			if s.OutputJSON {
				if anns == nil {
					anns = []*msgs.Announce{}
				}
				out, err := json.Marshal(anns)
				if err != nil {
					c.Err(err)
					return
				}
				c.Println(string(out))
				return
			}
			if len(anns) == 0 {
				c.Println("No vehicles found")
				return
			}
			for _, ann := range anns {
				c.Println(FormatAnnounce(ann))
			}
		},
	}

	// ConnectCmd connects a vehicle.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "VEHICLE",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			var vehicle string
			if len(c.Args) >= 1 {
				vehicle = c.Args[0]
			} else if s.Config.Address == "" {
				var err error
				if vehicle, err = s.SelectVehicle(); err != nil {
					c.Err(err)
					return
				}
				if vehicle == "" {
					c.Err(fmt.Errorf("no vehicle discovered"))
					return
				}
			}
			if err := s.Connect(vehicle); err != nil {
				c.Err(err)
				return
			}
		},
	}

	// DisconnectCmd disconnects current vehicle.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	ground.SetupFlags()
	flag.Parse()
	New(ground.NewConfig()).WithAutoConnect(true).Run(flag.Args()...)
}
