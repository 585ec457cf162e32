package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cloverStub serves a single-order merchant "MID1"
func cloverStub(t *testing.T, createdTime int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v3/merchants/MID1/orders":
			fmt.Fprintf(w, `{"elements":[{"id":"ORD1","createdTime":%d}]}`, createdTime)
		case "/v3/merchants/MID1/orders/ORD1":
			fmt.Fprintf(w, `{"id":"ORD1","createdTime":%d}`, createdTime)
		case "/v3/merchants/MID1/orders/ORD1/line_items":
			if r.URL.Query().Get("expand") == "modifications" {
				_, _ = w.Write([]byte(`{"elements":[{"id":"L1","name":"Crème Brûlée","modifications":{"elements":[{"id":"M1","name":"Extra Sugar"}]}}]}`))
				return
			}
			_, _ = w.Write([]byte(`{"elements":[{"id":"L1","name":"Crème Brûlée"}]}`))
		case "/v3/merchants/MID1/orders/ORD1/line_items/L1/modifications":
			_, _ = w.Write([]byte(`{"elements":[{"id":"M1","name":"Extra Sugar"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"not found"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setupEnv(t *testing.T) string {
	t.Helper()
	statePath := filepath.Join(t.TempDir(), "state.json")
	t.Setenv("KDS_APP_ENV", "development")
	t.Setenv("KDS_CLOVER_API_KEY", "test-key")
	t.Setenv("KDS_CLOVER_MERCHANT_ID", "MID1")
	t.Setenv("KDS_CLOVER_REQUESTS_PER_SECOND", "0")
	t.Setenv("KDS_STORE_BACKEND", "file")
	t.Setenv("KDS_STORE_PATH", statePath)
	t.Setenv("KDS_SYNC_TIMEZONE", "America/New_York")
	return statePath
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "kdsctl", cmd.Use)

	for _, name := range []string{"order", "orders"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "json", formatFlag.DefValue)

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)

	orderCmd, _, err := cmd.Find([]string{"order"})
	require.NoError(t, err)
	outputFlag := orderCmd.Flags().Lookup("output")
	require.NotNil(t, outputFlag)
	assert.Equal(t, "o", outputFlag.Shorthand)
}

func TestInvalidFormat(t *testing.T) {
	setupEnv(t)

	_, _, err := execute(t, "orders", "--format", "yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestOrderCommand_Stdout(t *testing.T) {
	setupEnv(t)
	srv := cloverStub(t, 1700000000000)

	stdout, _, err := execute(t, "order", "ORD1", "--base-url", srv.URL)
	require.NoError(t, err)

	var dump struct {
		OrderDetails struct {
			ID          string `json:"id"`
			CreatedTime int64  `json:"createdTime"`
			LineItems   []struct {
				Name          string `json:"name"`
				Modifications []struct {
					Name string `json:"name"`
				} `json:"modifications"`
			} `json:"lineItems"`
		} `json:"order_details"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &dump))
	assert.Equal(t, "ORD1", dump.OrderDetails.ID)
	assert.Equal(t, int64(1700000000000), dump.OrderDetails.CreatedTime)
	require.Len(t, dump.OrderDetails.LineItems, 1)
	assert.Equal(t, "Crème Brûlée", dump.OrderDetails.LineItems[0].Name)
	require.Len(t, dump.OrderDetails.LineItems[0].Modifications, 1)
	assert.Equal(t, "Extra Sugar", dump.OrderDetails.LineItems[0].Modifications[0].Name)
}

func TestOrderCommand_OutputFile(t *testing.T) {
	setupEnv(t)
	srv := cloverStub(t, 1700000000000)
	out := filepath.Join(t.TempDir(), "dumps", "order.json")

	stdout, stderr, err := execute(t, "order", "ORD1", "--base-url", srv.URL, "-o", out)
	require.NoError(t, err)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, out)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"order_details"`)
	assert.Contains(t, string(data), `"Extra Sugar"`)
}

func TestOrderCommand_Text(t *testing.T) {
	setupEnv(t)
	srv := cloverStub(t, 1700000000000)

	stdout, _, err := execute(t, "order", "ORD1", "--base-url", srv.URL, "--format", "text")
	require.NoError(t, err)
	assert.Equal(t, "ORD1\n  Crème Brûlée\n      + Extra Sugar\n", stdout)
}

func TestOrderCommand_UnknownOrder(t *testing.T) {
	setupEnv(t)
	srv := cloverStub(t, 1700000000000)

	_, _, err := execute(t, "order", "NOPE", "--base-url", srv.URL)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "fetch order NOPE")
}

func TestOrderCommand_MissingCredentials(t *testing.T) {
	setupEnv(t)
	t.Setenv("KDS_CLOVER_API_KEY", "")
	t.Setenv("API_KEY", "")

	_, _, err := execute(t, "order", "ORD1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestOrdersCommand(t *testing.T) {
	statePath := setupEnv(t)
	require.NoError(t, os.WriteFile(statePath, []byte(`{"ORD1":["L1"]}`), 0o644))
	srv := cloverStub(t, time.Now().UnixMilli())

	stdout, _, err := execute(t, "orders", "--base-url", srv.URL)
	require.NoError(t, err)

	var resp struct {
		Elements []struct {
			ID        string `json:"id"`
			LineItems []struct {
				Name      string `json:"name"`
				Completed bool   `json:"completed"`
			} `json:"lineItems"`
		} `json:"elements"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.Len(t, resp.Elements, 1)
	assert.Equal(t, "ORD1", resp.Elements[0].ID)
	require.Len(t, resp.Elements[0].LineItems, 1)
	assert.Equal(t, "Creme Brulee", resp.Elements[0].LineItems[0].Name)
	assert.True(t, resp.Elements[0].LineItems[0].Completed)

	// the snapshot is only read
	data, err := os.ReadFile(statePath)
	require.NoError(t, err)
	assert.Equal(t, `{"ORD1":["L1"]}`, string(data))
}

func TestOrdersCommand_TextSkipsYesterday(t *testing.T) {
	setupEnv(t)
	srv := cloverStub(t, time.Now().Add(-48*time.Hour).UnixMilli())

	stdout, _, err := execute(t, "orders", "--base-url", srv.URL, "--format", "text")
	require.NoError(t, err)
	assert.Equal(t, "No orders today", strings.TrimSpace(stdout))
}
