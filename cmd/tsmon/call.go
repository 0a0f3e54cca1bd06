package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/tsmon/internal/api"
	"github.com/mattjoyce/tsmon/internal/dispatch"
	"github.com/mattjoyce/tsmon/internal/tui/watch"
)

// gatewayClient talks to a running monitor's non-secure gateway.
type gatewayClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newGatewayClient(baseURL, token string) *gatewayClient {
	return &gatewayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *gatewayClient) do(method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, e.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *gatewayClient) SMC(req api.SMCRequest) (*api.SMCResponse, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var resp api.SMCResponse
	if err := c.do(http.MethodPost, "/smc", bytes.NewReader(b), "application/json", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *gatewayClient) WriteMem(addr uint64, data []byte) error {
	return c.do(http.MethodPut, fmt.Sprintf("/mem/%#x", addr), bytes.NewReader(data), "application/octet-stream", nil)
}

func (c *gatewayClient) ReadMem(addr uint64, n int) ([]byte, error) {
	var resp api.MemResponse
	if err := c.do(http.MethodGet, fmt.Sprintf("/mem/%#x?len=%d", addr, n), nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Discover stages name (NUL-terminated) at addr and asks the monitor for its
// handle.
func (c *gatewayClient) Discover(name string, addr uint64, timeoutUS uint32) (dispatch.Handle, error) {
	buf := append([]byte(name), 0)
	if err := c.WriteMem(addr, buf); err != nil {
		return 0, fmt.Errorf("stage service name: %w", err)
	}
	resp, err := c.SMC(api.SMCRequest{
		Handle:    uint32(dispatch.HandleDiscovery),
		Addr:      addr,
		Len:       uint64(len(buf)),
		TimeoutUS: timeoutUS,
	})
	if err != nil {
		return 0, err
	}
	if resp.Low <= 0 {
		return 0, fmt.Errorf("service %q: %s", name, resp.Status)
	}
	return dispatch.Handle(resp.Low), nil
}

// endpointFlags are shared by every command that talks to the gateway.
type endpointFlags struct {
	url, token, config string
}

func (e *endpointFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&e.url, "url", os.Getenv("TSMON_URL"), "Gateway base URL (env TSMON_URL)")
	fs.StringVar(&e.token, "token", os.Getenv("TSMON_TOKEN"), "Bearer token (env TSMON_TOKEN)")
	fs.StringVar(&e.config, "config", "", "Read the gateway address and api_key from this config")
}

// resolve fills missing URL and token from the monitor's own config.
func (e *endpointFlags) resolve() (string, string, error) {
	url, token := e.url, e.token
	if url != "" && token != "" {
		return url, token, nil
	}
	cfg, _, err := loadConfigForTool(e.config)
	if err != nil {
		return "", "", fmt.Errorf("no --url/--token and config unavailable: %w", err)
	}
	if url == "" {
		url = "http://" + cfg.API.Listen
	}
	if token == "" {
		token = cfg.API.Auth.APIKey
	}
	if token == "" {
		return "", "", fmt.Errorf("no token: pass --token or set api.auth.api_key")
	}
	return url, token, nil
}

// parseHandle accepts a sentinel name or a number in any base.
func parseHandle(s string) (dispatch.Handle, error) {
	switch strings.ToLower(s) {
	case "discovery":
		return dispatch.HandleDiscovery, nil
	case "query":
		return dispatch.HandleQuery, nil
	case "idle":
		return dispatch.HandleIdle, nil
	case "version":
		return dispatch.HandleVersion, nil
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid handle %q", s)
	}
	return dispatch.Handle(v), nil
}

func runCall(args []string) int {
	var ep endpointFlags
	var handleStr, service, addrStr, data string
	var n uint64
	var timeout uint
	var readBack int
	var jsonOut bool

	fs := flag.NewFlagSet("call", flag.ExitOnError)
	ep.register(fs)
	fs.StringVar(&handleStr, "handle", "", "Handle to call (number or discovery|query|idle|version)")
	fs.StringVar(&service, "service", "", "Discover the handle by service name first")
	fs.StringVar(&addrStr, "addr", "", "Request buffer address (defaults to the gateway window start)")
	fs.Uint64Var(&n, "len", 0, "Request buffer length (defaults to len(--data))")
	fs.UintVar(&timeout, "timeout", 10000, "Timeout in microseconds")
	fs.StringVar(&data, "data", "", "Bytes to write at --addr before the call")
	fs.IntVar(&readBack, "read", 0, "Bytes to read back from --addr after the call")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if (handleStr == "") == (service == "") {
		fmt.Fprintln(os.Stderr, "Error: exactly one of --handle or --service is required")
		return 1
	}

	url, token, err := ep.resolve()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	client := newGatewayClient(url, token)

	addr, err := resolveAddr(addrStr, ep)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	var h dispatch.Handle
	if service != "" {
		h, err = client.Discover(service, addr, uint32(timeout))
	} else {
		h, err = parseHandle(handleStr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if data != "" {
		if err := client.WriteMem(addr, []byte(data)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if n == 0 {
			n = uint64(len(data))
		}
	}

	resp, err := client.SMC(api.SMCRequest{Handle: uint32(h), Addr: addr, Len: n, TimeoutUS: uint32(timeout)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Call failed: %v\n", err)
		return 1
	}

	var readData []byte
	if readBack > 0 {
		if readData, err = client.ReadMem(addr, readBack); err != nil {
			fmt.Fprintf(os.Stderr, "Read back failed: %v\n", err)
			return 1
		}
	}

	if jsonOut {
		out := map[string]any{"handle": uint32(h), "response": resp}
		if readData != nil {
			out["data"] = readData
		}
		b, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(b))
	} else {
		fmt.Printf("Handle:   %s\n", h)
		fmt.Printf("Status:   %s (%d)\n", resp.Status, resp.Low)
		fmt.Printf("Flags:    %#x\n", resp.Flags)
		fmt.Printf("Result:   %#016x\n", resp.Result)
		fmt.Printf("Duration: %dus\n", resp.DurationUS)
		if resp.CallID != "" {
			fmt.Printf("Call ID:  %s\n", resp.CallID)
		}
		if readData != nil {
			fmt.Printf("Data:     %x\n", readData)
		}
	}

	if resp.Low < 0 {
		return 2
	}
	return 0
}

// resolveAddr parses --addr, defaulting to the start of the configured
// non-secure window.
func resolveAddr(s string, ep endpointFlags) (uint64, error) {
	if s != "" {
		addr, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid address %q", s)
		}
		return addr, nil
	}
	cfg, _, err := loadConfigForTool(ep.config)
	if err != nil {
		return 0, fmt.Errorf("no --addr and config unavailable: %w", err)
	}
	return cfg.Memory.NonSecureStart, nil
}

func runWatch(args []string) int {
	var ep endpointFlags
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	ep.register(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	url, token, err := ep.resolve()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	p := tea.NewProgram(watch.New(strings.TrimRight(url, "/"), token), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Watch failed: %v\n", err)
		return 1
	}
	return 0
}
