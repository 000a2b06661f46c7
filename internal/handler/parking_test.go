package handler

import (
    "bytes"
    "context"
    "encoding/json"
    "io"
    "log/slog"
    "net/http"
    "net/http/httptest"
    "path/filepath"
    "strings"
    "sync"
    "testing"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/parkqr/internal/database"
    "github.com/iliyamo/parkqr/internal/model"
    "github.com/iliyamo/parkqr/internal/render"
    "github.com/iliyamo/parkqr/internal/repository"
    "github.com/iliyamo/parkqr/internal/service"
)

type testClock struct {
    mu sync.Mutex
    t  time.Time
}

func (c *testClock) Now() time.Time {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.t
}

func (c *testClock) Advance(d time.Duration) {
    c.mu.Lock()
    c.t = c.t.Add(d)
    c.mu.Unlock()
}

type testServer struct {
    e     *echo.Echo
    clock *testClock
    repo  *repository.TicketRepo
}

func newTestServer(t *testing.T) *testServer {
    t.Helper()
    db, err := database.Open(context.Background(), database.Options{
        Driver:     database.SQLite,
        SQLitePath: filepath.Join(t.TempDir(), "http.db"),
    })
    if err != nil {
        t.Fatalf("open store: %v", err)
    }
    t.Cleanup(func() { _ = db.Close() })

    repo := repository.NewTicketRepo(db)
    clock := &testClock{t: time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)}
    svc, err := service.NewParkingService(service.Options{
        Store:    repo,
        Renderer: render.New(time.UTC),
        BaseURL:  "http://localhost:3000",
        Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
        Now:      clock.Now,
    })
    if err != nil {
        t.Fatalf("new service: %v", err)
    }

    h := NewParkingHandler(svc)
    e := echo.New()
    e.POST("/api/parking/entry", h.CreateEntry)
    e.POST("/api/parking/exit", h.ProcessExit)
    e.GET("/api/parking/ticket/:token", h.GetTicket)
    e.GET("/api/parking/ticket/:token/image", h.DownloadImage)
    e.GET("/api/parking/ticket/:token/qr", h.QRCode)
    e.POST("/api/parking/confirm-digital/:token", h.ConfirmDigital)
    e.POST("/api/parking/mark-printed/:token", h.MarkPrinted)
    e.GET("/api/parking/status", h.GetStatus)
    e.GET("/api/parking/tickets", h.ListTickets)
    e.GET("/api/parking/tickets/:id", h.GetTicketByID)

    hh := &HealthHandler{Store: svc, Env: "test", Started: time.Now()}
    e.GET("/healthz", Healthz)
    e.GET("/health", hh.Health)
    e.GET("/health/db", hh.HealthDB)
    return &testServer{e: e, clock: clock, repo: repo}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
    t.Helper()
    var r io.Reader
    if body != nil {
        b, err := json.Marshal(body)
        if err != nil {
            t.Fatalf("marshal: %v", err)
        }
        r = bytes.NewReader(b)
    }
    req := httptest.NewRequest(method, path, r)
    if body != nil {
        req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
    }
    rec := httptest.NewRecorder()
    s.e.ServeHTTP(rec, req)
    return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
    t.Helper()
    if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
        t.Fatalf("decode %q: %v", rec.Body.String(), err)
    }
}

type entryResponse struct {
    Ticket    ticketJSON `json:"ticket"`
    QRCode    string     `json:"qr_code"`
    VerifyURL string     `json:"verify_url"`
}

func TestEntryLookupExitFlow(t *testing.T) {
    s := newTestServer(t)

    rec := s.do(t, http.MethodPost, "/api/parking/entry", echo.Map{"plate_number": "abc123", "vehicle_type": "CAR"})
    if rec.Code != http.StatusCreated {
        t.Fatalf("entry status = %d body=%s", rec.Code, rec.Body.String())
    }
    var entry entryResponse
    decode(t, rec, &entry)
    token := entry.Ticket.Token
    if entry.Ticket.PlateNumber != "ABC123" || entry.Ticket.Status != "ACTIVE" {
        t.Fatalf("entry ticket = %+v", entry.Ticket)
    }
    if !strings.HasPrefix(entry.QRCode, "data:image/png;base64,") {
        t.Fatalf("qr_code = %.40q", entry.QRCode)
    }
    if entry.VerifyURL != "http://localhost:3000/verify/"+token {
        t.Fatalf("verify_url = %q", entry.VerifyURL)
    }

    s.clock.Advance(90 * time.Minute)

    rec = s.do(t, http.MethodGet, "/api/parking/ticket/"+token, nil)
    if rec.Code != http.StatusOK {
        t.Fatalf("lookup status = %d", rec.Code)
    }
    var view ticketViewJSON
    decode(t, rec, &view)
    if view.TimeElapsed != 90 || view.EstimatedFee != 400 {
        t.Fatalf("lookup = %+v", view)
    }

    rec = s.do(t, http.MethodPost, "/api/parking/exit", echo.Map{"qr_token": token})
    if rec.Code != http.StatusOK {
        t.Fatalf("exit status = %d body=%s", rec.Code, rec.Body.String())
    }
    var exit struct {
        Ticket       ticketJSON `json:"ticket"`
        TotalMinutes int64      `json:"total_minutes"`
        TotalHours   int64      `json:"total_hours"`
    }
    decode(t, rec, &exit)
    if exit.TotalMinutes != 90 || exit.TotalHours != 2 || exit.Ticket.FeeCents == nil || *exit.Ticket.FeeCents != 400 {
        t.Fatalf("exit = %+v", exit)
    }

    rec = s.do(t, http.MethodPost, "/api/parking/exit", echo.Map{"qr_token": token})
    if rec.Code != http.StatusConflict {
        t.Fatalf("second exit status = %d", rec.Code)
    }
    var errBody map[string]string
    decode(t, rec, &errBody)
    if errBody["code"] != "invalid_state" {
        t.Fatalf("second exit body = %v", errBody)
    }
}

func TestErrorStatuses(t *testing.T) {
    s := newTestServer(t)

    if rec := s.do(t, http.MethodPost, "/api/parking/entry", echo.Map{"plate_number": "A!", "vehicle_type": "CAR"}); rec.Code != http.StatusBadRequest {
        t.Fatalf("bad plate status = %d", rec.Code)
    }
    if rec := s.do(t, http.MethodPost, "/api/parking/entry", echo.Map{"plate_number": "ABC123", "vehicle_type": "TRUCK"}); rec.Code != http.StatusBadRequest {
        t.Fatalf("bad class status = %d", rec.Code)
    }
    if rec := s.do(t, http.MethodPost, "/api/parking/entry", echo.Map{"plate_number": "DUP001", "vehicle_type": "CAR"}); rec.Code != http.StatusCreated {
        t.Fatalf("first entry status = %d", rec.Code)
    }
    rec := s.do(t, http.MethodPost, "/api/parking/entry", echo.Map{"plate_number": "DUP001", "vehicle_type": "CAR"})
    if rec.Code != http.StatusConflict {
        t.Fatalf("duplicate entry status = %d", rec.Code)
    }
    var body map[string]string
    decode(t, rec, &body)
    if body["code"] != "conflict" || body["error"] == "" {
        t.Fatalf("duplicate entry body = %v", body)
    }

    for _, path := range []string{"/api/parking/ticket/nope", "/api/parking/tickets/nope", "/api/parking/ticket/nope/image", "/api/parking/ticket/nope/qr"} {
        if rec := s.do(t, http.MethodGet, path, nil); rec.Code != http.StatusNotFound {
            t.Fatalf("GET %s status = %d", path, rec.Code)
        }
    }
    if rec := s.do(t, http.MethodPost, "/api/parking/exit", echo.Map{"qr_token": "nope"}); rec.Code != http.StatusNotFound {
        t.Fatalf("exit unknown status = %d", rec.Code)
    }
    if rec := s.do(t, http.MethodPost, "/api/parking/exit", echo.Map{}); rec.Code != http.StatusBadRequest {
        t.Fatalf("exit without token status = %d", rec.Code)
    }
}

func TestDeliveryAndArtifacts(t *testing.T) {
    s := newTestServer(t)

    rec := s.do(t, http.MethodPost, "/api/parking/entry", echo.Map{"plate_number": "IMG001", "vehicle_type": "MOTORCYCLE"})
    var entry entryResponse
    decode(t, rec, &entry)
    token := entry.Ticket.Token

    rec = s.do(t, http.MethodPost, "/api/parking/confirm-digital/"+token, nil)
    var confirm map[string]any
    decode(t, rec, &confirm)
    if rec.Code != http.StatusOK || confirm["success"] != true || confirm["delivery_method"] != "DIGITAL_PHOTO" {
        t.Fatalf("confirm = %d %v", rec.Code, confirm)
    }

    rec = s.do(t, http.MethodPost, "/api/parking/mark-printed/"+token, nil)
    var printed map[string]any
    decode(t, rec, &printed)
    if rec.Code != http.StatusOK || printed["delivery_method"] != "PRINTED" || printed["printed_at"] == nil {
        t.Fatalf("mark printed = %d %v", rec.Code, printed)
    }

    rec = s.do(t, http.MethodGet, "/api/parking/ticket/"+token+"/image", nil)
    if rec.Code != http.StatusOK {
        t.Fatalf("image status = %d body=%s", rec.Code, rec.Body.String())
    }
    if ct := rec.Header().Get(echo.HeaderContentType); ct != "image/png" {
        t.Fatalf("image content type = %q", ct)
    }
    if cd := rec.Header().Get(echo.HeaderContentDisposition); cd != `attachment; filename="ticket-`+token+`.png"` {
        t.Fatalf("content disposition = %q", cd)
    }
    if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
        t.Fatal("image body is not a PNG")
    }

    stored, err := s.repo.FindByToken(context.Background(), token)
    if err != nil {
        t.Fatalf("reload: %v", err)
    }
    if stored.DeliveryState != model.DeliveryDigitalDownload || stored.PrintedAt == nil || stored.DownloadedAt == nil {
        t.Fatalf("delivery not persisted: %+v", stored)
    }

    rec = s.do(t, http.MethodGet, "/api/parking/ticket/"+token+"/qr", nil)
    if rec.Code != http.StatusOK || !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
        t.Fatalf("qr status = %d", rec.Code)
    }
}

func TestStatusAndListing(t *testing.T) {
    s := newTestServer(t)

    for _, p := range []struct{ plate, class string }{{"CAR001", "CAR"}, {"CAR002", "CAR"}, {"BIKE01", "BICYCLE"}} {
        if rec := s.do(t, http.MethodPost, "/api/parking/entry", echo.Map{"plate_number": p.plate, "vehicle_type": p.class}); rec.Code != http.StatusCreated {
            t.Fatalf("entry %s status = %d", p.plate, rec.Code)
        }
        s.clock.Advance(time.Minute)
    }

    rec := s.do(t, http.MethodGet, "/api/parking/status", nil)
    if rec.Code != http.StatusOK {
        t.Fatalf("status code = %d", rec.Code)
    }
    var st struct {
        ActiveCount   int              `json:"active_count"`
        ByVehicleType map[string]int   `json:"by_vehicle_type"`
        Active        []ticketViewJSON `json:"active_tickets"`
        Today         struct {
            Count int64 `json:"count"`
        } `json:"today"`
    }
    decode(t, rec, &st)
    if st.ActiveCount != 3 || st.ByVehicleType["CAR"] != 2 || st.ByVehicleType["BICYCLE"] != 1 || st.ByVehicleType["MOTORCYCLE"] != 0 {
        t.Fatalf("status = %+v", st)
    }
    if len(st.Active) != 3 || st.Active[0].Ticket.PlateNumber != "BIKE01" || st.Today.Count != 3 {
        t.Fatalf("status listing = %+v", st)
    }

    rec = s.do(t, http.MethodGet, "/api/parking/tickets", nil)
    var list struct {
        Tickets []ticketViewJSON `json:"tickets"`
        Count   int              `json:"count"`
    }
    decode(t, rec, &list)
    if list.Count != 3 || len(list.Tickets) != 3 {
        t.Fatalf("list = %+v", list)
    }

    rec = s.do(t, http.MethodGet, "/api/parking/tickets/"+list.Tickets[2].Ticket.ID, nil)
    var one ticketViewJSON
    decode(t, rec, &one)
    if rec.Code != http.StatusOK || one.Ticket.PlateNumber != "CAR001" {
        t.Fatalf("ticket by id = %d %+v", rec.Code, one)
    }
}

func TestHealthEndpoints(t *testing.T) {
    s := newTestServer(t)

    if rec := s.do(t, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
        t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
    }
    if rec := s.do(t, http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
        t.Fatalf("health = %d", rec.Code)
    }
    if rec := s.do(t, http.MethodGet, "/health/db", nil); rec.Code != http.StatusOK {
        t.Fatalf("health/db = %d", rec.Code)
    }
}

type downStore struct{}

func (downStore) Ping(context.Context) error { return context.DeadlineExceeded }

func TestHealthDBReportsOutage(t *testing.T) {
    e := echo.New()
    hh := &HealthHandler{Store: downStore{}, Started: time.Now()}
    e.GET("/health/db", hh.HealthDB)

    rec := httptest.NewRecorder()
    e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/db", nil))
    if rec.Code != http.StatusServiceUnavailable {
        t.Fatalf("status = %d, want 503", rec.Code)
    }
}

func TestStatusForKinds(t *testing.T) {
    cases := map[service.Kind]int{
        service.KindValidation:      http.StatusBadRequest,
        service.KindConflict:        http.StatusConflict,
        service.KindNotFound:        http.StatusNotFound,
        service.KindInvalidState:    http.StatusConflict,
        service.KindUnavailable:     http.StatusServiceUnavailable,
        service.KindRenderingFailed: http.StatusInternalServerError,
        service.KindInternal:        http.StatusInternalServerError,
    }
    for kind, want := range cases {
        if got := statusFor(kind); got != want {
            t.Fatalf("statusFor(%s) = %d, want %d", kind, got, want)
        }
    }
}
