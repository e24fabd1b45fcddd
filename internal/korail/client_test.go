package korail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testQuery(t *testing.T) TrainQuery {
	t.Helper()
	q, err := NewQuery("서울", "부산", time.Now().AddDate(0, 0, 7),
		ClockTime{8, 0}, ClockTime{12, 0}, TrainKTX, SeatGeneral, 1)
	if err != nil {
		t.Fatalf("test query: %v", err)
	}
	return q
}

func newTestClient(baseURL string) *Client {
	return NewClient(ClientConfig{BaseURL: baseURL}, testLogger())
}

func trainJSON(no, depTm, genCd, genNm string) string {
	return fmt.Sprintf(`{
		"h_trn_no": %q, "h_trn_clsf_nm": "KTX",
		"h_dpt_tm": %q, "h_arv_tm": "113000",
		"h_gen_rsv_cd": %q, "h_gen_rsv_nm": %q,
		"h_spe_rsv_cd": "00", "h_spe_rsv_nm": "매진"
	}`, no, depTm, genCd, genNm)
}

func TestCheckDecodesDespiteHTMLContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The real endpoint labels its JSON as text/html.
		w.Header().Set("Content-Type", "text/html; charset=euc-kr")
		fmt.Fprintf(w, `{"strResult":"SUCC","h_next_pg_flg":"N","trn_infos":{"trn_info":[%s]}}`,
			trainJSON("001", "090000", "11", "5석"))
	}))
	defer srv.Close()

	result, err := newTestClient(srv.URL).Check(context.Background(), testQuery(t))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(result.Trains) != 1 {
		t.Fatalf("got %d trains, want 1", len(result.Trains))
	}
	train := result.Trains[0]
	if train.GeneralSeats != 5 {
		t.Errorf("general seats = %d, want 5", train.GeneralSeats)
	}
	if train.SpecialSeats != 0 {
		t.Errorf("special seats = %d, want 0", train.SpecialSeats)
	}
	if train.DurationMinutes != 150 {
		t.Errorf("duration = %d, want 150", train.DurationMinutes)
	}
	if !result.SeatsAvailable {
		t.Error("SeatsAvailable = false, want true")
	}
}

func TestCheckCoercesLoneTrainObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"strResult":"SUCC","trn_infos":{"trn_info":%s}}`,
			trainJSON("007", "100000", "11", ""))
	}))
	defer srv.Close()

	result, err := newTestClient(srv.URL).Check(context.Background(), testQuery(t))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(result.Trains) != 1 {
		t.Fatalf("got %d trains, want 1 (lone object coerced)", len(result.Trains))
	}
	if result.Trains[0].GeneralSeats != 1 {
		t.Errorf("seats = %d, want 1 for empty name with available code", result.Trains[0].GeneralSeats)
	}
}

func TestCheckPagination(t *testing.T) {
	var pages []url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages = append(pages, r.URL.Query())
		if len(pages) == 1 {
			fmt.Fprintf(w, `{"strResult":"SUCC","h_next_pg_flg":"Y",
				"h_qry_st_no_next":"0032","h_trn_no_next":"0100",
				"trn_infos":{"trn_info":[%s]}}`,
				trainJSON("001", "083000", "00", "매진"))
			return
		}
		fmt.Fprintf(w, `{"strResult":"SUCC","h_next_pg_flg":"N","trn_infos":{"trn_info":[%s]}}`,
			trainJSON("003", "101500", "11", "좌석많음"))
	}))
	defer srv.Close()

	result, err := newTestClient(srv.URL).Check(context.Background(), testQuery(t))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("made %d requests, want 2", len(pages))
	}
	if got := pages[1].Get("h_qry_st_no_next"); got != "0032" {
		t.Errorf("continuation h_qry_st_no_next = %q, want 0032", got)
	}
	if got := pages[1].Get("h_trn_no_next"); got != "0100" {
		t.Errorf("continuation h_trn_no_next = %q, want 0100", got)
	}
	if len(result.Trains) != 2 {
		t.Fatalf("got %d trains across pages, want 2", len(result.Trains))
	}
	if result.Trains[1].GeneralSeats != 99 {
		t.Errorf("second-page seats = %d, want 99", result.Trains[1].GeneralSeats)
	}
	// raw_response_size covers every page.
	if result.RawResponseSize <= 0 {
		t.Error("RawResponseSize not accumulated")
	}
}

func TestCheckPaginationCap(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		// Always claim another page exists.
		fmt.Fprint(w, `{"strResult":"SUCC","h_next_pg_flg":"Y","h_qry_st_no_next":"1","h_trn_no_next":"1","trn_infos":{"trn_info":[]}}`)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).Check(context.Background(), testQuery(t)); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if requests != maxPages {
		t.Errorf("made %d requests, want the %d-page cap", requests, maxPages)
	}
}

func TestCheckUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"strResult":"FAIL","h_msg_cd":"WRG000000","h_msg_txt":"조회 결과가 없습니다"}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Check(context.Background(), testQuery(t))
	kerr, ok := AsError(err)
	if !ok {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if kerr.Kind != KindUpstream {
		t.Errorf("kind = %v, want upstream", kerr.Kind)
	}
	if kerr.Code != "WRG000000" {
		t.Errorf("code = %q, want WRG000000", kerr.Code)
	}
}

func TestCheckTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Check(context.Background(), testQuery(t))
	kerr, ok := AsError(err)
	if !ok || kerr.Kind != KindTransport {
		t.Fatalf("error = %v, want transport kind", err)
	}

	// Connection refused is transport too.
	srv.Close()
	_, err = newTestClient(srv.URL).Check(context.Background(), testQuery(t))
	if kerr, ok := AsError(err); !ok || kerr.Kind != KindTransport {
		t.Fatalf("error = %v, want transport kind", err)
	}
}

func TestCheckProtocolFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>maintenance window</html>`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Check(context.Background(), testQuery(t))
	kerr, ok := AsError(err)
	if !ok || kerr.Kind != KindProtocol {
		t.Fatalf("error = %v, want protocol kind", err)
	}
	var target *Error
	if !errors.As(err, &target) {
		t.Error("error does not unwrap to *Error")
	}
}

func TestCheckFiltersTimeWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"strResult":"SUCC","trn_infos":{"trn_info":[%s,%s,%s,%s]}}`,
			trainJSON("001", "073000", "11", "5석"),  // before window
			trainJSON("003", "080000", "11", "5석"),  // inclusive lower bound
			trainJSON("005", "120000", "11", "5석"),  // inclusive upper bound
			trainJSON("007", "121500", "11", "5석")) // after window
	}))
	defer srv.Close()

	result, err := newTestClient(srv.URL).Check(context.Background(), testQuery(t))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(result.Trains) != 2 {
		t.Fatalf("got %d trains after filter, want 2", len(result.Trains))
	}
	if result.Trains[0].TrainNo != "003" || result.Trains[1].TrainNo != "005" {
		t.Errorf("wrong trains survived the filter: %v", result.Trains)
	}
}

func TestCheckRequestParameters(t *testing.T) {
	var got url.Values
	var gotUA, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		fmt.Fprint(w, `{"strResult":"SUCC","trn_infos":{"trn_info":[]}}`)
	}))
	defer srv.Close()

	q, err := NewQuery("서울역", "부산역", time.Now().AddDate(0, 0, 7),
		ClockTime{8, 0}, ClockTime{12, 0}, TrainKTX, SeatGeneral, 2)
	if err != nil {
		t.Fatalf("NewQuery: %v", err)
	}
	if _, err := newTestClient(srv.URL).Check(context.Background(), q); err != nil {
		t.Fatalf("Check: %v", err)
	}

	// Aliases resolved to canonical names on the wire.
	wantParams := map[string]string{
		"txtGoStart":   "서울",
		"txtGoEnd":     "부산",
		"txtGoAbrdDt":  q.Date.Format("20060102"),
		"txtGoHour":    "080000",
		"selGoTrain":   "100",
		"txtTrnGpCd":   "100",
		"txtSeatAttCd": "015",
		"txtPsgFlg_1":  "2",
		"txtPsgFlg_2":  "0",
		"txtTotPsgCnt": "2",
		"Device":       "AD",
		"Version":      "190617001",
		"radJobId":     "1",
		"txtMenuId":    "11",
	}
	for k, want := range wantParams {
		if got.Get(k) != want {
			t.Errorf("param %s = %q, want %q", k, got.Get(k), want)
		}
	}
	if gotUA != userAgent {
		t.Errorf("User-Agent = %q, want the mobile UA", gotUA)
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q, want application/json", gotAccept)
	}
}

func TestCheckContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestClient(srv.URL).Check(ctx, testQuery(t))
	if kerr, ok := AsError(err); !ok || kerr.Kind != KindTransport {
		t.Fatalf("error = %v, want transport kind on cancellation", err)
	}
}
