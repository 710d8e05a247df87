package commands

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/alluxio-auth/pkg/auth/transport"
)

var pingCmd = &cobra.Command{
	Use:   "ping <host:port>",
	Short: "Authenticate to a server and print its greeting",
	Long: `Log in under the configured mode, run the GSSAPI SASL handshake against
a server started with 'alluxio-auth serve' and print the identity the
server authorized.

Examples:
  kinit alice@EXAMPLE.COM
  ALLUXIO_SECURITY_AUTHENTICATION_TYPE=KERBEROS alluxio-auth ping master1.example.com:19998`,
	Args: cobra.ExactArgs(1),
	RunE: runPing,
}

type pingResult struct {
	Server     string `json:"server" yaml:"server"`
	Connection string `json:"connection" yaml:"connection"`
	Authorized string `json:"authorized" yaml:"authorized"`
	Greeting   string `json:"greeting" yaml:"greeting"`
	ElapsedMs  int64  `json:"elapsed_ms" yaml:"elapsed_ms"`
}

func (r pingResult) Headers() []string {
	return []string{"SERVER", "CONNECTION", "AUTHORIZED", "GREETING", "ELAPSED"}
}

func (r pingResult) Rows() [][]string {
	return [][]string{{r.Server, r.Connection, r.Authorized, r.Greeting, fmt.Sprintf("%dms", r.ElapsedMs)}}
}

func runPing(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}

	d := &transport.Dialer{
		Session: a.session,
		Timeout: a.cfg.Network.SocketTimeout,
		Options: []transport.Option{transport.WithServiceName(a.cfg.Security.Kerberos.ServiceName)},
	}

	start := time.Now()
	conn, err := d.Dial(cmd.Context(), "tcp", args[0])
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	if a.cfg.Network.SocketTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(a.cfg.Network.SocketTimeout))
	}
	greeting, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return fmt.Errorf("read greeting: %w", err)
	}

	return printer.Print(pingResult{
		Server:     args[0],
		Connection: conn.ID(),
		Authorized: conn.AuthorizationID(),
		Greeting:   strings.TrimSpace(greeting),
		ElapsedMs:  time.Since(start).Milliseconds(),
	})
}
