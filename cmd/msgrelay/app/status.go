package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	grpcmw "github.com/autopeer-io/msgrelay/internal/pkg/middleware/grpc"
	"github.com/autopeer-io/msgrelay/internal/relay/core/model"
	"github.com/autopeer-io/msgrelay/pkg/options"
)

type statusOptions struct {
	addr     string
	grpcAddr string
	timeout  time.Duration
}

func newStatusCommand() *cobra.Command {
	o := &statusOptions{
		addr:    options.DefaultHttpAddr,
		timeout: 5 * time.Second,
	}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd.Context(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&o.addr, "addr", o.addr, "HTTP address of the relay (its --http.addr).")
	cmd.Flags().StringVar(&o.grpcAddr, "grpc-addr", o.grpcAddr, "gRPC address of the relay; when set, the health service is queried as well.")
	cmd.Flags().DurationVar(&o.timeout, "timeout", o.timeout, "Timeout of each request.")
	return cmd
}

func (o *statusOptions) run(ctx context.Context, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := fetchStatus(ctx, &http.Client{Timeout: o.timeout}, options.StatusURL(o.addr))
	if err != nil {
		return err
	}

	health := ""
	if o.grpcAddr != "" {
		if health, err = checkHealth(ctx, o.grpcAddr, o.timeout); err != nil {
			health = "UNREACHABLE: " + err.Error()
		}
	}

	printStatus(out, st, health, time.Now())
	return nil
}

func fetchStatus(ctx context.Context, client *http.Client, url string) (*model.RelayStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relay returned %s", resp.Status)
	}

	var st model.RelayStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &st, nil
}

func checkHealth(ctx context.Context, addr string, timeout time.Duration) (string, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(grpcmw.UnaryTimeoutInterceptor(timeout)),
	)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return "", err
	}
	return resp.GetStatus().String(), nil
}

func printStatus(out io.Writer, st *model.RelayStatus, health string, now time.Time) {
	table := uitable.New()
	table.MaxColWidth = 80

	lastPoll := "never"
	if !st.LastPollTimestamp.IsZero() {
		lastPoll = fmt.Sprintf("%s (%s ago)", st.LastPollTimestamp.Format(time.RFC3339), now.Sub(st.LastPollTimestamp).Round(time.Second))
	}

	table.AddRow("RELAY:", st.RelayID)
	table.AddRow("MODE:", st.Mode)
	table.AddRow("READY:", st.Ready)
	table.AddRow("PUSH CHANNEL:", st.PushChannel)
	table.AddRow("POLL INTERVAL:", st.PollInterval)
	table.AddRow("LAST POLL:", lastPoll)
	table.AddRow("QUEUE DEPTH:", st.QueueDepth)
	table.AddRow("ACTIVE MESSAGES:", st.ActiveMessages)
	table.AddRow("DEFERRED MESSAGES:", st.DeferredMessages)
	table.AddRow("UPTIME:", now.Sub(st.StartedAt).Round(time.Second))
	if health != "" {
		table.AddRow("GRPC HEALTH:", health)
	}

	fmt.Fprintln(out, table)
}
