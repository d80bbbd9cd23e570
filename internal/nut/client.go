package nut

import (
	"context"
	"fmt"
	"strings"

	gonut "github.com/robbiet480/go.nut"
)

// Client connects to a NUT upsd daemon and implements both Poller (raw
// variable fetch, kept for callers that want the unprocessed variable map)
// and UpsQuery (the typed, three-outcome probe contract from spec §4.1).
//
// When listing UPSes or fetching variables fails, the connection is marked
// stale and the next Poll reconnects automatically before fetching
// variables. A configured UPS missing from upsd's list does not mark it
// stale.
type Client struct {
	host     string
	port     int
	username string
	password string
	upsName  string
	conn     *gonut.Client
	stale    bool

	// doPoll is the variable-fetch seam; NewClient points it at pollOnce.
	// Tests override it directly to exercise Snapshot's Stale/Unreachable
	// discrimination without a live upsd connection.
	doPoll func() ([]Variable, error)
}

// NewClient dials upsd and returns a ready Client, or an error if the
// initial connection fails.
func NewClient(host string, port int, username, password, upsName string) (*Client, error) {
	c := &Client{
		host:     host,
		port:     port,
		username: username,
		password: password,
		upsName:  upsName,
	}
	c.doPoll = c.pollOnce
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect() error {
	conn, err := gonut.Connect(c.host, c.port)
	if err != nil {
		return fmt.Errorf("connecting to NUT at %s:%d: %w", c.host, c.port, err)
	}
	if c.username != "" {
		if _, err := conn.Authenticate(c.username, c.password); err != nil {
			_, _ = conn.Disconnect()
			return fmt.Errorf("authenticating with NUT: %w", err)
		}
	}
	c.conn = &conn
	c.stale = false
	return nil
}

// Poll fetches the current variable set from the configured UPS.
// If the connection is stale it reconnects first.
func (c *Client) Poll() ([]Variable, error) {
	if c.stale {
		if err := c.connect(); err != nil {
			return nil, err
		}
	}
	return c.doPoll()
}

// pollOnce performs the actual upsd round trip: list UPSes, find the
// configured one, fetch its variables. Split out of Poll so tests can
// substitute doPoll and drive Snapshot's error classification without a
// live connection.
func (c *Client) pollOnce() ([]Variable, error) {
	upsList, err := c.conn.GetUPSList()
	if err != nil {
		c.stale = true
		return nil, fmt.Errorf("listing UPS: %w", err)
	}

	var target *gonut.UPS
	for i := range upsList {
		if upsList[i].Name == c.upsName {
			target = &upsList[i]
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("UPS %q not found in upsd", c.upsName)
	}

	nutVars, err := target.GetVariables()
	if err != nil {
		c.stale = true
		return nil, fmt.Errorf("getting variables for %q: %w", c.upsName, err)
	}

	vars := make([]Variable, len(nutVars))
	for i, v := range nutVars {
		vars[i] = Variable{
			Name:  v.Name,
			Value: fmt.Sprintf("%v", v.Value),
		}
	}
	return vars, nil
}

// Snapshot implements UpsQuery. It fetches the variable set and classifies
// the result into Ok/Stale/Unreachable per spec §4.1: any error whose
// message mentions staleness maps to Stale regardless of the underlying
// transport's exit condition; any other error maps to Unreachable; success
// maps to Ok with a permissively parsed Sample.
func (c *Client) Snapshot(_ context.Context) (Outcome, Sample, error) {
	vars, err := c.Poll()
	if err != nil {
		if looksStale(err) {
			return Stale, Sample{}, err
		}
		return Unreachable, Sample{}, err
	}
	return Ok, SampleFromVars(VarsToMap(vars)), nil
}

// Var implements UpsQuery. It is used only at startup to discover voltage
// transfer thresholds, so it re-polls the full variable set rather than
// carrying a single-variable NUT protocol call.
func (c *Client) Var(ctx context.Context, key string) (string, bool) {
	outcome, sample, err := c.Snapshot(ctx)
	_ = err
	if outcome != Ok {
		return "", false
	}
	switch key {
	case "input.transfer.low":
		return optFloatString(sample.TransferLowV)
	case "input.transfer.high":
		return optFloatString(sample.TransferHighV)
	case "input.voltage.nominal":
		return optFloatString(sample.NominalVoltageV)
	default:
		return "", false
	}
}

func optFloatString(f OptFloat) (string, bool) {
	if !f.Valid {
		return "", false
	}
	return fmt.Sprintf("%v", f.Value), true
}

// looksStale reports whether err's message indicates upsd considers its
// own data stale, mirroring the "Data stale" substring check the original
// upsc-based probe performed on raw process output.
func looksStale(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "stale")
}

// Close disconnects from upsd.
func (c *Client) Close() error {
	if c.conn != nil {
		_, err := c.conn.Disconnect()
		c.conn = nil
		return err
	}
	return nil
}
