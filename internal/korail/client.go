package korail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"
)

// DefaultBaseURL is the seat-availability endpoint of the official Korail
// mobile app. It requires no authentication.
const DefaultBaseURL = "https://smart.letskorail.com:443/classes/com.korail.mobile.seatMovie.ScheduleView"

// userAgent mimics the mobile app; the endpoint rejects obviously non-app
// clients.
const userAgent = "Dalvik/2.1.0 (Linux; U; Android 5.1.1; Nexus 4 Build/LMY48T)"

// maxPages caps pagination to prevent a runaway loop on a misbehaving
// continuation flag.
const maxPages = 5

// ErrorKind classifies a failed availability check. All kinds count the same
// toward the monitor's consecutive-error limit; the distinction exists for
// logs.
type ErrorKind int

const (
	// KindTransport covers network errors, timeouts, and non-2xx statuses.
	KindTransport ErrorKind = iota
	// KindProtocol covers undecodable or structurally unexpected responses.
	KindProtocol
	// KindUpstream covers explicit strResult=="FAIL" rejections.
	KindUpstream
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindUpstream:
		return "upstream"
	default:
		return "unknown"
	}
}

// Error is the failure type returned by Client.Check.
type Error struct {
	Kind ErrorKind
	// Code and Msg carry h_msg_cd / h_msg_txt for upstream rejections.
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindUpstream:
		return fmt.Sprintf("korail: upstream rejected request [%s]: %s", e.Code, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("korail: %s failure: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("korail: %s failure", e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// ClientConfig tunes the HTTP behaviour of a Client. The zero value is
// replaced by the documented defaults.
type ClientConfig struct {
	BaseURL        string
	RequestTimeout time.Duration // total per-request budget, default 15s
	ConnectTimeout time.Duration // dial budget, default 5s
	MaxConnections int           // connection pool size, default 3
}

func (c *ClientConfig) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 15 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 3
	}
}

// Client performs seat-availability checks against the Korail mobile API.
// It owns a single keep-alive connection pool shared by all checks; create one
// per session and Close it on teardown. It is safe for concurrent use.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  *slog.Logger
}

// NewClient creates a Client with its own pooled transport.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxConnsPerHost:     cfg.MaxConnections,
		MaxIdleConns:        cfg.MaxConnections,
		MaxIdleConnsPerHost: cfg.MaxConnections,
		IdleConnTimeout:     300 * time.Second,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
	}

	return &Client{
		baseURL: cfg.BaseURL,
		httpc: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		logger: logger.With(slog.String("component", "seat_checker")),
	}
}

// Close releases the connection pool. The client must not be used afterwards.
func (c *Client) Close() {
	c.httpc.CloseIdleConnections()
}

// scheduleResponse is the top-level wire shape. The endpoint serves JSON with
// a text/html content type, so decoding never consults the header.
type scheduleResponse struct {
	StrResult    string `json:"strResult"`
	MsgCode      string `json:"h_msg_cd"`
	MsgText      string `json:"h_msg_txt"`
	NextPageFlag string `json:"h_next_pg_flg"`
	NextQueryNo  string `json:"h_qry_st_no_next"`
	NextTrainNo  string `json:"h_trn_no_next"`
	TrainInfos   struct {
		TrainInfo wireTrainList `json:"trn_info"`
	} `json:"trn_infos"`
}

type wireTrain struct {
	TrainNo       string `json:"h_trn_no"`
	TrainClass    string `json:"h_trn_clsf_nm"`
	DepartureTime string `json:"h_dpt_tm"`
	ArrivalTime   string `json:"h_arv_tm"`
	GeneralCode   string `json:"h_gen_rsv_cd"`
	SpecialCode   string `json:"h_spe_rsv_cd"`
	GeneralName   string `json:"h_gen_rsv_nm"`
	SpecialName   string `json:"h_spe_rsv_nm"`
}

// wireTrainList tolerates the endpoint's habit of returning a lone object
// instead of a single-element array when exactly one train matches.
type wireTrainList []wireTrain

func (l *wireTrainList) UnmarshalJSON(b []byte) error {
	var many []wireTrain
	if err := json.Unmarshal(b, &many); err == nil {
		*l = many
		return nil
	}
	var one wireTrain
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*l = wireTrainList{one}
	return nil
}

// Check performs one complete availability query, following pagination up to
// maxPages pages, and returns the window-filtered result. Failures are always
// of type *Error.
func (c *Client) Check(ctx context.Context, query TrainQuery) (CheckResult, error) {
	params := buildParams(query)
	ts := time.Now()
	totalSize := 0
	var trains []TrainInfo

	for page := 0; page < maxPages; page++ {
		resp, size, err := c.fetchPage(ctx, params)
		if err != nil {
			return CheckResult{}, err
		}
		totalSize += size

		if resp.StrResult == "FAIL" {
			return CheckResult{}, &Error{Kind: KindUpstream, Code: resp.MsgCode, Msg: resp.MsgText}
		}

		trains = append(trains, c.extractTrains(resp, query)...)

		if resp.NextPageFlag != "Y" {
			break
		}
		params.Set("h_qry_st_no_next", resp.NextQueryNo)
		params.Set("h_trn_no_next", resp.NextTrainNo)
	}

	available := false
	for _, t := range trains {
		if t.HasSeats() {
			available = true
			break
		}
	}

	return CheckResult{
		Timestamp:       ts,
		Trains:          trains,
		SeatsAvailable:  available,
		RawResponseSize: totalSize,
	}, nil
}

// fetchPage executes one GET and decodes the body, returning the raw size.
func (c *Client) fetchPage(ctx context.Context, params url.Values) (*scheduleResponse, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, &Error{Kind: KindTransport, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, 0, &Error{Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &Error{Kind: KindTransport, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, 0, &Error{Kind: KindTransport, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	var decoded scheduleResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, 0, &Error{Kind: KindProtocol, Err: err}
	}
	return &decoded, len(body), nil
}

// extractTrains converts the wire trains to TrainInfo, dropping those whose
// departure falls outside the query's time window (inclusive bounds).
func (c *Client) extractTrains(resp *scheduleResponse, query TrainQuery) []TrainInfo {
	var out []TrainInfo
	for _, w := range resp.TrainInfos.TrainInfo {
		dep := parseWireTime(w.DepartureTime)
		arr := parseWireTime(w.ArrivalTime)

		if dep.Before(query.WindowStart) || dep.After(query.WindowEnd) {
			continue
		}

		for _, code := range []string{w.GeneralCode, w.SpecialCode} {
			if code != "" && !knownRsvCode(code) {
				c.logger.Warn("unexpected reservation code",
					slog.String("code", code),
					slog.String("train_no", w.TrainNo),
				)
			}
		}

		out = append(out, TrainInfo{
			TrainNo:         w.TrainNo,
			TrainType:       w.TrainClass,
			DepartureTime:   dep,
			ArrivalTime:     arr,
			GeneralSeats:    seatCount(w.GeneralCode, w.GeneralName),
			SpecialSeats:    seatCount(w.SpecialCode, w.SpecialName),
			DurationMinutes: calcDuration(dep, arr),
		})
	}
	return out
}

// buildParams assembles the mobile-app query parameter set. Station names, not
// codes, go on the wire; the endpoint does its own lookup.
func buildParams(query TrainQuery) url.Values {
	trainCode := trainClassCodes[query.TrainClass]
	if trainCode == "" {
		trainCode = trainClassCodes[TrainAll]
	}
	seatCode := seatClassCodes[query.SeatClass]
	if seatCode == "" {
		seatCode = seatClassCodes[SeatGeneral]
	}

	params := url.Values{}
	// Mobile app identification.
	params.Set("Device", "AD")
	params.Set("Version", "190617001")
	// Journey.
	params.Set("txtGoStart", query.Departure)
	params.Set("txtGoEnd", query.Arrival)
	params.Set("txtGoAbrdDt", query.Date.Format("20060102"))
	params.Set("txtGoHour", query.WindowStart.Wire())
	params.Set("selGoTrain", trainCode)
	params.Set("txtTrnGpCd", trainCode)
	params.Set("txtSeatAttCd", seatCode)
	// Passenger flags: adults in slot 1, the rest zeroed.
	params.Set("txtPsgFlg_1", fmt.Sprint(query.Passengers))
	params.Set("txtPsgFlg_2", "0")
	params.Set("txtPsgFlg_3", "0")
	params.Set("txtPsgFlg_4", "0")
	params.Set("txtPsgFlg_5", "0")
	params.Set("txtCardPsgCnt", "0")
	params.Set("txtTotPsgCnt", fmt.Sprint(query.Passengers))
	// Fixed administrative fields.
	params.Set("txtSeatAttCd_2", "000")
	params.Set("txtSeatAttCd_3", "000")
	params.Set("txtSeatAttCd_4", "015")
	params.Set("radJobId", "1")
	params.Set("txtMenuId", "11")
	params.Set("txtGdNo", "")
	params.Set("txtJobDv", "")
	return params
}

// AsError extracts the *Error from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
