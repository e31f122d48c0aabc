// Package admin exposes the daemon's HTTP inspection surface: the
// active restriction rules, a dry-run evaluation endpoint, reload, and
// the recent audit log.
package admin

import (
	"encoding/json"
	"net/http"
	"net/netip"
	"strconv"

	"tunnelguard/pkg/guard"
	"tunnelguard/pkg/log"
	"tunnelguard/pkg/restrict"

	"github.com/labstack/echo/v4"
)

type API struct {
	Api   *echo.Echo
	Guard *guard.Guard
	addr  string
}

func NewAPI(g *guard.Guard, addr string) *API {
	api := echo.New()
	api.HideBanner = true
	a := &API{
		Api:   api,
		Guard: g,
		addr:  addr,
	}
	a.Api.GET("/restrictions", a.GetRestrictions)
	a.Api.POST("/check", a.PostCheck)
	a.Api.POST("/reload", a.PostReload)
	a.Api.GET("/logs", a.GetLogs)
	return a
}

func (a *API) Run() {
	a.Api.Logger.Fatal(a.Api.Start(a.addr))
}

// --- DTOs ---

type ruleSummary struct {
	Name  string   `json:"name"`
	Match []string `json:"match"`
	Allow []string `json:"allow"`
}

type checkRequest struct {
	Direction string `json:"direction"`
	Protocol  string `json:"protocol"`
	Path      string `json:"path"`
	Host      string `json:"host"`
	Port      uint16 `json:"port"`
	Addr      string `json:"addr"`
}

type checkResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	Rule    string `json:"rule,omitempty"`
}

// toRequest turns a wire descriptor into an engine request.
func (r checkRequest) toRequest() (restrict.Request, error) {
	req := restrict.Request{
		Path: r.Path,
		Host: r.Host,
		Port: r.Port,
	}
	switch r.Direction {
	case "reverse":
		req.Direction = restrict.Reverse
	case "", "forward":
		req.Direction = restrict.Forward
	default:
		return req, echo.NewHTTPError(http.StatusBadRequest, "direction must be forward or reverse")
	}
	proto, err := restrict.ParseLocalProtocol(r.Protocol)
	if err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Protocol = proto
	if r.Addr != "" {
		addr, err := netip.ParseAddr(r.Addr)
		if err != nil {
			return req, echo.NewHTTPError(http.StatusBadRequest, "invalid addr: "+err.Error())
		}
		req.Addr = addr
	}
	return req, nil
}

// --- Handlers ---

func (a *API) GetRestrictions(c echo.Context) error {
	set := a.Guard.Snapshot()
	summaries := make([]ruleSummary, 0, len(set.Rules))
	for _, r := range set.Rules {
		s := ruleSummary{Name: r.Name}
		for _, m := range r.Match {
			s.Match = append(s.Match, m.String())
		}
		for _, al := range r.Allow {
			s.Allow = append(s.Allow, describeAllow(al))
		}
		summaries = append(summaries, s)
	}
	return c.JSON(http.StatusOK, summaries)
}

func describeAllow(a restrict.Allow) string {
	switch v := a.(type) {
	case *restrict.AllowTunnel:
		return "Tunnel" + describeDims(len(v.Protocols), v.Ports, len(v.CIDRs))
	case *restrict.AllowReverse:
		return "ReverseTunnel" + describeDims(len(v.Protocols), v.Ports, len(v.CIDRs))
	default:
		return a.String()
	}
}

func describeDims(protocols int, ports []restrict.PortRange, cidrs int) string {
	portDesc := "any"
	if len(ports) > 0 {
		portDesc = ""
		for i, p := range ports {
			if i > 0 {
				portDesc += ","
			}
			portDesc += p.String()
		}
	}
	protoDesc := "any"
	if protocols > 0 {
		protoDesc = strconv.Itoa(protocols)
	}
	return "(protocols=" + protoDesc + " ports=" + portDesc + " cidrs=" + strconv.Itoa(cidrs) + ")"
}

func (a *API) PostCheck(c echo.Context) error {
	var cr checkRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&cr); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	req, err := cr.toRequest()
	if err != nil {
		return err
	}
	d := a.Guard.Check(req)
	return c.JSON(http.StatusOK, checkResponse{
		Allowed: d.Allowed,
		Reason:  d.Reason.String(),
		Rule:    d.Rule,
	})
}

func (a *API) PostReload(c echo.Context) error {
	if err := a.Guard.Reload(); err != nil {
		// The previous rule set stays in force; tell the operator why.
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]int{"rules": len(a.Guard.Snapshot().Rules)})
}

func (a *API) GetLogs(c echo.Context) error {
	n := log.DefaultLimit
	if s := c.QueryParam("n"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid n")
		}
		n = v
	}
	entries, err := log.LastN(n)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	events := make([]json.RawMessage, 0, len(entries))
	for _, e := range entries {
		events = append(events, json.RawMessage(e.Event))
	}
	return c.JSON(http.StatusOK, events)
}
