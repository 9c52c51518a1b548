package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"go.dedis.ch/dolr/gui/httpnode/controller"
	"go.dedis.ch/dolr/peer"
	"go.dedis.ch/dolr/peer/impl"
	"go.dedis.ch/dolr/storage"
	"go.dedis.ch/dolr/storage/inmemory"
	"go.dedis.ch/dolr/storage/leveldb"
	"go.dedis.ch/dolr/transport/udp"
	"go.dedis.ch/dolr/types"
)

func main() {
	app := &cli.App{
		Name:  "dolrnode",
		Usage: "run a node of the object location overlay",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "trace, debug, info, warn or error",
			},
		},
		Before: setupLogging,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "start a node",
				Action: run,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Value: "127.0.0.1:0",
						Usage: "udp address to listen on",
					},
					&cli.StringFlag{
						Name:  "id",
						Usage: "node identifier, derived from the address when empty",
					},
					&cli.IntFlag{
						Name:  "bits",
						Value: peer.DefaultIDBits,
						Usage: "identifier width, a multiple of 4",
					},
					&cli.IntFlag{
						Name:  "depth",
						Value: peer.DefaultSlotDepth,
						Usage: "neighbors kept per routing slot",
					},
					&cli.IntFlag{
						Name:  "hop-budget",
						Value: peer.DefaultHopBudget,
						Usage: "hop budget of the messages this node sends",
					},
					&cli.DurationFlag{
						Name:  "publish-ttl",
						Value: time.Hour,
						Usage: "lifetime of the back-pointers of published objects",
					},
					&cli.DurationFlag{
						Name:  "republish",
						Value: time.Minute * 30,
						Usage: "republish sweep interval",
					},
					&cli.StringFlag{
						Name:  "db",
						Usage: "leveldb directory, objects are kept in memory when empty",
					},
					&cli.IntFlag{
						Name:  "capacity",
						Value: 1 << 30,
						Usage: "bytes of objects the node stores",
					},
					&cli.StringFlag{
						Name:  "http",
						Usage: "address to serve the object gateway and prometheus metrics on, disabled when empty",
					},
					&cli.StringSliceFlag{
						Name:  "neighbor",
						Usage: "known neighbor as id@addr, can be repeated",
					},
					&cli.StringSliceFlag{
						Name:  "put",
						Usage: "file to store and publish once started, can be repeated",
					},
					&cli.StringFlag{
						Name:  "delete-token",
						Usage: "delete token of the files given with --put",
					},
				},
			},
			{
				Name:   "objectid",
				Usage:  "print the identifier a file gets once stored",
				Action: objectID,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "delete-token",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "bits",
						Value: peer.DefaultIDBits,
					},
				},
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal().Err(err).Msg("dolrnode failed")
	}
}

func setupLogging(c *cli.Context) error {
	level, err := zerolog.ParseLevel(c.String("log-level"))
	if err != nil {
		return xerrors.Errorf("invalid log level: %v", err)
	}

	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	return nil
}

func run(c *cli.Context) error {
	socket, err := udp.NewUDP().CreateSocket(c.String("addr"))
	if err != nil {
		return xerrors.Errorf("failed to create socket: %v", err)
	}

	var store storage.Store
	if c.String("db") != "" {
		store, err = leveldb.Open(c.String("db"), c.Int("capacity"), log.Logger)
		if err != nil {
			socket.Close()
			return err
		}
	} else {
		store = inmemory.NewStore(c.Int("capacity"))
	}

	conf := peer.NewConfiguration(socket, store)
	conf.IDBits = c.Int("bits")
	conf.SlotDepth = c.Int("depth")
	conf.HopBudget = c.Int("hop-budget")
	conf.PublishTTL = c.Duration("publish-ttl")
	conf.RepublishInterval = c.Duration("republish")

	if c.String("id") != "" {
		conf.NodeID, err = types.ParseID(c.String("id"))
		if err != nil {
			return err
		}
	}

	node := impl.NewPeer(conf)

	err = node.Start()
	if err != nil {
		return xerrors.Errorf("failed to start node: %v", err)
	}

	log.Info().Msgf("node %s listening on %s", node.GetAddress().ID, socket.GetAddress())

	for _, neighbor := range c.StringSlice("neighbor") {
		addr, err := parseNeighbor(neighbor)
		if err != nil {
			node.Stop()
			return err
		}
		node.AddNeighbor(addr)
	}

	for _, path := range c.StringSlice("put") {
		err := put(node, path, c.String("delete-token"))
		if err != nil {
			log.Error().Msgf("<[main.run] put %s>: <%s>", path, err.Error())
		}
	}

	var server *http.Server
	if c.String("http") != "" {
		ctrl := controller.NewObjectServer(node, &log.Logger)

		mux := http.NewServeMux()
		mux.Handle("/objects/", ctrl.ObjectsHandler())
		mux.Handle("/metrics", promhttp.HandlerFor(node.Metrics(), promhttp.HandlerOpts{}))

		server = &http.Server{Addr: c.String("http"), Handler: mux}
		go func() {
			err := server.ListenAndServe()
			if err != nil && err != http.ErrServerClosed {
				log.Error().Msgf("<[main.run] http server>: <%s>", err.Error())
			}
		}()

		log.Info().Msgf("serving http on %s", c.String("http"))
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	<-signals

	log.Info().Msg("stopping")

	if server != nil {
		server.Close()
	}

	return node.Stop()
}

func put(node peer.Peer, path, deleteToken string) error {
	if deleteToken == "" {
		return xerrors.New("--delete-token is required with --put")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	obj := &types.StoredObject{
		Data: data,
		Metadata: types.Metadata{
			DeleteToken: deleteToken,
			Properties:  map[string]string{"name": filepath.Base(path)},
		},
	}

	id, err := node.CreateObject(obj)
	if err != nil {
		return err
	}

	log.Info().Msgf("stored %s as %s", path, id)

	return nil
}

// parseNeighbor parses id@addr.
func parseNeighbor(s string) (types.NodeAddress, error) {
	parts := strings.SplitN(s, "@", 2)
	if len(parts) != 2 || parts[1] == "" {
		return types.NodeAddress{}, xerrors.Errorf("invalid neighbor %q, expected id@addr", s)
	}

	id, err := types.ParseID(parts[0])
	if err != nil {
		return types.NodeAddress{}, err
	}

	return types.NodeAddress{ID: id, Endpoint: parts[1]}, nil
}

func objectID(c *cli.Context) error {
	data, err := os.ReadFile(c.String("file"))
	if err != nil {
		return err
	}

	bits := c.Int("bits")
	obj := &types.StoredObject{
		Data: data,
		Metadata: types.Metadata{
			DeleteTokenID: types.DeleteTokenID(bits, c.String("delete-token")),
		},
	}

	id, err := impl.ComputeObjectID(bits, obj)
	if err != nil {
		return err
	}

	fmt.Println(id)

	return nil
}
