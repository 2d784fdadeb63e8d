// Command pytomcat manages a cluster of Tomcat nodes: listing deployed
// webapps, deploying and undeploying WAR files, and rolling-restarting the
// cluster.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v4"
	"github.com/vbauerster/mpb/v4/decor"
	"golang.org/x/term"

	"github.com/sbraverman/pytomcat/cluster"
	"github.com/sbraverman/pytomcat/cmn"
	"github.com/sbraverman/pytomcat/deploy"
	"github.com/sbraverman/pytomcat/internal/pytconfig"
	"github.com/sbraverman/pytomcat/internal/pytlog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	app := cli.NewApp()
	app.Name = "pytomcat"
	app.Usage = "manage a cluster of Tomcat nodes"
	app.Version = "1.0.0"

	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "host", Usage: "seed node host"},
		cli.IntFlag{Name: "port", Usage: "seed node port"},
		cli.StringFlag{Name: "user, u", Usage: "manager user"},
		cli.StringFlag{Name: "password, p", Usage: "manager password"},
		cli.StringFlag{Name: "vhost", Usage: "virtual host to scope the operation to"},
		cli.StringFlag{Name: "loglevel", Value: "INFO", Usage: "ERROR, WARN, INFO or DEBUG"},
		cli.BoolFlag{Name: "json", Usage: "emit structured JSON instead of colored text"},
		cli.BoolFlag{Name: "active-only", Usage: "discover the cluster by walking only active (ready, non-failing, non-suspect) members"},
	}

	app.Before = func(c *cli.Context) error {
		pytlog.Setup(c.String("loglevel"))
		return nil
	}

	app.Commands = []cli.Command{
		listCommand,
		deployCommand,
		undeployCommand,
		restartCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

func discoverCluster(c *cli.Context) (*cluster.Cluster, error) {
	defaults, err := pytconfig.Load()
	if err != nil {
		pytlog.L().Warnf("could not load ~/.pytomcat.yaml: %v", err)
	}
	host, port, user, password := defaults.ApplyTo(c.String("host"), c.Int("port"), c.String("user"), c.String("password"))
	if port == 0 {
		port = cmn.DefaultPort
	}
	if host == "" {
		return nil, cli.NewExitError("missing --host", 1)
	}
	return cluster.Discover(context.Background(), host, port, user, password, c.GlobalBool("active-only"))
}

var listCommand = cli.Command{
	Name:  "list",
	Usage: "list deployed webapps and their coherence across the cluster",
	Flags: []cli.Flag{
		cli.BoolFlag{Name: "latest", Usage: "show only the lexicographically greatest version per path"},
	},
	Action: func(c *cli.Context) error {
		cl, err := discoverCluster(c)
		if err != nil {
			return err
		}
		statuses, err := cl.WebappStatuses(context.Background(), c.String("vhost"))
		if err != nil {
			return err
		}
		if c.Bool("latest") {
			statuses = cluster.RemoveOldVersions(statuses)
		}
		clusterName := lookupClusterName(cl)
		if c.GlobalBool("json") {
			out, err := json.MarshalIndent(struct {
				ClusterName string                            `json:"cluster_name,omitempty"`
				Webapps     map[string]*cluster.WebappStatus `json:"webapps"`
			}{ClusterName: clusterName, Webapps: statuses}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}
		if clusterName != "" {
			color.Cyan("cluster: %s (%d node(s))", clusterName, cl.Len())
		}
		printStatuses(statuses)
		return nil
	},
}

// lookupClusterName asks one representative member for its configured
// cluster name, tolerating nodes that aren't running the in-JVM cluster
// valve at all (an empty string then means "no cluster name to show", not
// an error worth failing the whole command over).
func lookupClusterName(cl *cluster.Cluster) string {
	ids := cl.NodeIDs()
	sort.Strings(ids)
	if len(ids) == 0 {
		return ""
	}
	n, ok := cl.Nodes[ids[0]]
	if !ok {
		return ""
	}
	name, err := n.ClusterName(context.Background())
	if err != nil {
		return ""
	}
	return name
}

func printStatuses(statuses map[string]*cluster.WebappStatus) {
	contexts := make([]string, 0, len(statuses))
	for ctx := range statuses {
		contexts = append(contexts, ctx)
	}
	sort.Strings(contexts)
	for _, ctx := range contexts {
		st := statuses[ctx]
		line := fmt.Sprintf("%-40s nodes=%d", ctx, len(st.PresentOn))
		if st.Coherent {
			color.Green(line)
		} else {
			color.Yellow(line + " (incoherent)")
		}
	}
}

var deployCommand = cli.Command{
	Name:      "deploy",
	Usage:     "deploy a WAR file to every node in the cluster",
	ArgsUsage: "<warfile>",
	Flags: []cli.Flag{
		cli.BoolFlag{Name: "kill-sessions"},
		cli.BoolFlag{Name: "no-check-memory"},
		cli.Float64Flag{Name: "required-memory", Value: cmn.DefaultRequiredMemoryPercent},
		cli.BoolFlag{Name: "no-auto-gc"},
		cli.BoolFlag{Name: "auto-restart"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.NewExitError("expected exactly one WAR file argument", 1)
		}
		cl, err := discoverCluster(c)
		if err != nil {
			return err
		}

		cfg := deploy.DefaultConfig()
		cfg.KillSessions = c.Bool("kill-sessions")
		cfg.CheckMemory = !c.Bool("no-check-memory")
		cfg.RequiredMemory = c.Float64("required-memory")
		cfg.AutoGC = !c.Bool("no-auto-gc")
		cfg.AutoRestart = c.Bool("auto-restart")

		progress, done := newUploadProgress(!isTTY(c))
		cfg.Progress = progress
		defer done()

		wf := deploy.New(cl, cfg)
		if err := wf.Deploy(context.Background(), c.Args().First(), c.String("vhost")); err != nil {
			return err
		}
		color.Green("deployed %s to %d node(s)", c.Args().First(), cl.Len())
		return nil
	},
}

var undeployCommand = cli.Command{
	Name:      "undeploy",
	Usage:     "undeploy a context from every node in the cluster",
	ArgsUsage: "<context>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.NewExitError("expected exactly one context argument", 1)
		}
		cl, err := discoverCluster(c)
		if err != nil {
			return err
		}
		cfg := deploy.DefaultConfig()
		wf := deploy.New(cl, cfg)
		if err := wf.Undeploy(context.Background(), c.Args().First(), c.String("vhost")); err != nil {
			return err
		}
		color.Green("undeployed %s from %d node(s)", c.Args().First(), cl.Len())
		return nil
	},
}

var restartCommand = cli.Command{
	Name:  "restart",
	Usage: "rolling-restart the cluster",
	Flags: []cli.Flag{
		cli.Float64Flag{Name: "restart-fraction", Value: cmn.DefaultRestartFraction},
	},
	Action: func(c *cli.Context) error {
		cl, err := discoverCluster(c)
		if err != nil {
			return err
		}
		cfg := deploy.DefaultConfig()
		cfg.RestartFraction = c.Float64("restart-fraction")
		wf := deploy.New(cl, cfg)
		if err := wf.Restart(context.Background(), c.String("vhost")); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		color.Green("restarted %d node(s)", cl.Len())
		return nil
	},
}

func isTTY(c *cli.Context) bool {
	if c.GlobalBool("json") {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// newUploadProgress renders one mpb progress bar per in-flight upload,
// keyed by node. When plain is true (no tty, or --json), it draws no bars
// and instead logs one line per completed upload.
func newUploadProgress(plain bool) (cmn.ProgressFunc, func()) {
	if plain {
		return func(e cmn.Event) {
			if e.Kind == cmn.EventUpload && e.Position == e.Total {
				pytlog.L().Infof("uploaded %s to %s", e.Filename, e.Node)
			}
		}, func() {}
	}

	p := mpb.New(mpb.WithWidth(60))
	bars := map[string]*mpb.Bar{}
	return func(e cmn.Event) {
		switch e.Kind {
		case cmn.EventUpload:
			bar, ok := bars[e.Node]
			if !ok {
				bar = p.AddBar(e.Total,
					mpb.PrependDecorators(decor.Name(e.Node)),
					mpb.AppendDecorators(decor.Percentage()),
				)
				bars[e.Node] = bar
			}
			bar.SetCurrent(e.Position)
		case cmn.EventCmdStart:
			pytlog.L().Debugf("%s: starting %s", e.Node, e.Command)
		case cmn.EventCmdEnd:
			if e.Err != nil {
				pytlog.L().Errorf("%s: %s failed: %v", e.Node, e.Command, e.Err)
			}
		}
	}, func() {
		p.Wait()
	}
}
