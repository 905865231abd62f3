// Package objects provides the shell commands working with telemetry
// objects: listing, reading, writing, requesting, and watching them.
package objects

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/uavtalks/telem.go/pkg/cli/sh"
	"github.com/uavtalks/telem.go/pkg/telemetry"
	"github.com/uavtalks/telem.go/pkg/uavobj"
)

const reqTimeout = time.Second

var (
	// ObjectsCmd lists the objects of the store.
	ObjectsCmd = ishell.Cmd{
		Name:    "objects",
		Aliases: []string{"ls"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			conn := sh.ShellFrom(c).Conn
			conn.Store.ForEach(func(obj uavobj.Object) {
				if obj.IsMeta() {
					return
				}
				md := obj.Metadata()
				c.Printf("%-28s %08x  %-9s x%d\n",
					obj.Name(), uint32(obj.ID()), md.TelemetryUpdateMode, obj.NumInstances())
			})
		}),
	}

	// GetCmd prints the local value of an object.
	GetCmd = ishell.Cmd{
		Name:    "get",
		Aliases: []string{"g"},
		Help:    "OBJECT [INST|all]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("OBJECT required"))
				return
			}
			obj, ok := sh.FindObject(c, c.Args[0])
			if !ok {
				return
			}
			inst, ok := sh.ParseInst(c, c.Args[1:])
			if !ok {
				return
			}
			printInstances(c, obj, inst)
		}),
	}

	// RequestCmd asks the vehicle for an object's value.
	RequestCmd = ishell.Cmd{
		Name:    "request",
		Aliases: []string{"req", "r"},
		Help:    "OBJECT [INST|all]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("OBJECT required"))
				return
			}
			obj, ok := sh.FindObject(c, c.Args[0])
			if !ok {
				return
			}
			inst, ok := sh.ParseInst(c, c.Args[1:])
			if !ok {
				return
			}
			conn := sh.ShellFrom(c).Conn
			if err := conn.Session.RequestObject(obj, inst, reqTimeout); err != nil {
				c.Err(err)
				return
			}
			printInstances(c, obj, inst)
		}),
	}

	// SetCmd writes an object locally and pushes it to the vehicle.
	SetCmd = ishell.Cmd{
		Name:    "set",
		Aliases: []string{"s"},
		Help:    "OBJECT JSON [INST]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 2 {
				c.Err(fmt.Errorf("OBJECT and JSON required"))
				return
			}
			obj, ok := sh.FindObject(c, c.Args[0])
			if !ok {
				return
			}
			inst, ok := sh.ParseInst(c, c.Args[2:])
			if !ok {
				return
			}
			if inst == uavobj.AllInstances {
				c.Err(fmt.Errorf("set writes one instance at a time"))
				return
			}
			value, err := decodeValue(obj, inst, []byte(c.Args[1]))
			if err != nil {
				c.Err(err)
				return
			}
			if err := obj.Set(inst, value); err != nil {
				c.Err(err)
				return
			}
			conn := sh.ShellFrom(c).Conn
			if err := conn.Session.SendObject(obj, inst, obj.Metadata().TelemetryAcked, reqTimeout); err != nil {
				c.Err(err)
				return
			}
			c.Println("OK")
		}),
	}

	// MetaCmd prints or rewrites an object's dispatch policy on the
	// vehicle. The JSON argument updates only the fields it names.
	MetaCmd = ishell.Cmd{
		Name:    "meta",
		Aliases: []string{"m"},
		Help:    "OBJECT [JSON]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("OBJECT required"))
				return
			}
			obj, ok := sh.FindObject(c, c.Args[0])
			if !ok {
				return
			}
			if obj.IsMeta() {
				obj = obj.Linked()
			}
			md := obj.Metadata()
			if len(c.Args) < 2 {
				sh.PrintValue(c, obj.Meta(), 0, md)
				return
			}
			if err := json.Unmarshal([]byte(c.Args[1]), &md); err != nil {
				c.Err(err)
				return
			}
			if err := obj.SetMetadata(md); err != nil {
				c.Err(err)
				return
			}
			conn := sh.ShellFrom(c).Conn
			if err := conn.Session.SendObject(obj.Meta(), 0, true, reqTimeout); err != nil {
				c.Err(err)
				return
			}
			c.Println("OK")
		}),
	}

	// StatsCmd prints the link statistics of both sides.
	StatsCmd = ishell.Cmd{
		Name:    "stats",
		Aliases: []string{"st"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			conn := sh.ShellFrom(c).Conn
			if v, err := conn.Status.FlightStats.Get(0); err == nil {
				if fs, ok := v.(telemetry.FlightStats); ok {
					c.Printf("vehicle %s\n", fs.Status)
					sh.PrintValue(c, conn.Status.FlightStats, 0, fs)
				}
			}
			if v, err := conn.Status.GCSStats.Get(0); err == nil {
				sh.PrintValue(c, conn.Status.GCSStats, 0, v)
			}
		}),
	}

	// WatchCmd prints an object's events for a while.
	WatchCmd = ishell.Cmd{
		Name:    "watch",
		Aliases: []string{"w"},
		Help:    "OBJECT [SECONDS]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("OBJECT required"))
				return
			}
			obj, ok := sh.FindObject(c, c.Args[0])
			if !ok {
				return
			}
			dur := 5 * time.Second
			if len(c.Args) > 1 {
				secs, err := strconv.Atoi(c.Args[1])
				if err != nil {
					c.Err(fmt.Errorf("bad SECONDS: %v", err))
					return
				}
				dur = time.Duration(secs) * time.Second
			}
			q := uavobj.NewQueue(16)
			obj.Connect(q, uavobj.MaskAllUpdates)
			defer obj.Disconnect(q)
			deadline := time.After(dur)
			for {
				select {
				case ev := <-q.C():
					if ev.Obj == nil {
						continue
					}
					c.Printf("%s ", ev.Kind)
					printInstances(c, ev.Obj, ev.InstID)
				case <-deadline:
					return
				}
			}
		}),
	}
)

func printInstances(c *ishell.Context, obj uavobj.Object, inst uavobj.InstID) {
	if inst == uavobj.AllInstances {
		for i := 0; i < obj.NumInstances(); i++ {
			printInstances(c, obj, uavobj.InstID(i))
		}
		return
	}
	v, err := obj.Get(inst)
	if err != nil {
		c.Err(err)
		return
	}
	sh.PrintValue(c, obj, inst, v)
}

// decodeValue unmarshals data into a fresh value of the instance's
// current type, the same convention the wire uses.
func decodeValue(obj uavobj.Object, inst uavobj.InstID, data []byte) (interface{}, error) {
	lookup := inst
	if lookup == uavobj.AllInstances {
		lookup = 0
	}
	cur, err := obj.Get(lookup)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		var v interface{}
		err := json.Unmarshal(data, &v)
		return v, err
	}
	rv := reflect.New(reflect.TypeOf(cur))
	if err := json.Unmarshal(data, rv.Interface()); err != nil {
		return nil, err
	}
	return rv.Elem().Interface(), nil
}

func init() {
	sh.AddCmds(
		&ObjectsCmd,
		&GetCmd,
		&RequestCmd,
		&SetCmd,
		&MetaCmd,
		&StatsCmd,
		&WatchCmd,
	)
}
