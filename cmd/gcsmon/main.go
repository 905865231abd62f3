package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"encoding/json"
	"flag"
	"log"

	"github.com/uavtalks/telem.go/pkg/env/ground"
	fx "github.com/uavtalks/telem.go/pkg/framework"
	"github.com/uavtalks/telem.go/pkg/gcs"
	"github.com/uavtalks/telem.go/pkg/objcfg"
	"github.com/uavtalks/telem.go/pkg/talk/linetalk"
	"github.com/uavtalks/telem.go/pkg/telemetry"
	"github.com/uavtalks/telem.go/pkg/uavobj"
	"github.com/uavtalks/telem.go/pkg/uavobj/memstore"
)

var retrieve = true

func init() {
	ground.SetupFlags()
	flag.BoolVar(&retrieve, "retrieve", retrieve, "Request every object once connected.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	conf := ground.NewConfig()
	vehicle := conf.Vehicle
	if vehicle == "" && conf.Address == "" {
		anns, err := conf.Discover(context.Background())
		if err != nil {
			log.Fatalln(err)
		}
		if len(anns) == 0 {
			log.Fatalln("no vehicles announced")
		}
		vehicle = anns[0].Vehicle
		log.Printf("discovered %s", vehicle)
	}
	p, err := conf.Dial(vehicle)
	if err != nil {
		log.Fatalln(err)
	}

	store := memstore.New()
	status, err := telemetry.RegisterStatusObjects(store)
	if err != nil {
		log.Fatalln(err)
	}
	if conf.ObjectsFile != "" {
		f, err := objcfg.Load(conf.ObjectsFile)
		if err != nil {
			log.Fatalln(err)
		}
		if err := f.Register(store); err != nil {
			log.Fatalln(err)
		}
	}
	session := linetalk.New(store, p.Send)

	arrivals := uavobj.NewQueue(64)
	store.ForEach(func(obj uavobj.Object) {
		if obj == status.GCSStats {
			return
		}
		obj.Connect(arrivals, uavobj.Mask(uavobj.EventUnpacked))
	})

	runner := fx.NewRunner().HandleSignals()
	ctx := runner.Context

	var mon *gcs.Monitor
	monConf := gcs.Config{
		Registry:    store,
		Session:     session,
		FlightStats: status.FlightStats,
		GroundStats: status.GCSStats,
	}
	if retrieve {
		monConf.OnConnect = func() { go mon.RetrieveAll(ctx) }
	}
	if mon, err = gcs.NewMonitor(monConf); err != nil {
		log.Fatalln(err)
	}

	printer := fx.NamedRun("printer", fx.RunFunc(func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev := <-arrivals.C():
				if ev.Obj == nil {
					continue
				}
				v, err := ev.Obj.Get(ev.InstID)
				if err != nil {
					continue
				}
				out, err := json.Marshal(v)
				if err != nil {
					continue
				}
				log.Printf("%s[%d] %s", ev.Obj.Name(), ev.InstID, out)
			}
		}
	}))

	runner.Go(mon, &gcs.Pump{Session: session, Port: p}, printer)
	if err := runner.Wait(); err != nil {
		log.Fatalln(err)
	}
}
