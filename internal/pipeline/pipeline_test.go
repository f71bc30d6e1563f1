package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarg/tamil-captioner/internal/caption"
	"github.com/snarg/tamil-captioner/internal/database"
	"github.com/snarg/tamil-captioner/internal/romanize"
	"github.com/snarg/tamil-captioner/internal/storage"
	"github.com/snarg/tamil-captioner/internal/transcribe"
)

var wavBytes = append([]byte("RIFF\x24\x00\x00\x00WAVEfmt \x10\x00\x00\x00\x01\x00\x01\x00\x80\x3e\x00\x00"), make([]byte, 64)...)

type fakeSTT struct {
	mu      sync.Mutex
	resp    *transcribe.Response
	err     error
	calls   int
	got     []byte
	lastOpt transcribe.TranscribeOpts
}

func (f *fakeSTT) Transcribe(ctx context.Context, audioPath string, opts transcribe.TranscribeOpts) (*transcribe.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastOpt = opts
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, err
	}
	f.got = data
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeSTT) Name() string  { return "fake" }
func (f *fakeSTT) Model() string { return "tiny" }

type fakeRomanizer struct {
	out      string
	err      error
	calls    int
	gotText  string
	gotCreds string
}

func (f *fakeRomanizer) Romanize(ctx context.Context, text, credential string) (string, error) {
	f.calls++
	f.gotText = text
	f.gotCreds = credential
	return f.out, f.err
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    bool
}

func newMemStore() *memStore { return &memStore{objects: map[string][]byte{}} }

func (s *memStore) Save(ctx context.Context, key string, data []byte, ct string) error {
	if s.fail {
		return errors.New("disk full")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return nil
}
func (s *memStore) URL(ctx context.Context, key string) (string, error) { return "", nil }
func (s *memStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
func (s *memStore) Exists(ctx context.Context, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}
func (s *memStore) Type() string { return "memory" }

type fakeRecorder struct {
	mu   sync.Mutex
	rows []*database.JobRow
}

func (f *fakeRecorder) InsertJob(ctx context.Context, j *database.JobRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, j)
	return nil
}

type fakePublisher struct {
	mu      sync.Mutex
	events  []string
	payload [][]byte
}

func (f *fakePublisher) Publish(event string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	f.payload = append(f.payload, b)
	return nil
}

func scenarioA() *transcribe.Response {
	return &transcribe.Response{
		Text: "vanakkam eppadi irukkai",
		Segments: []caption.Segment{
			{Start: 0.0, End: 1.5, Text: "vanakkam"},
			{Start: 1.5, End: 3.0, Text: "eppadi irukkai"},
		},
	}
}

const scenarioADoc = "1\n00:00:00,000 --> 00:00:01,500\nvanakkam\n\n" +
	"2\n00:00:01,500 --> 00:00:03,000\neppadi irukkai\n\n"

type harness struct {
	stt       *fakeSTT
	romanizer *fakeRomanizer
	store     *memStore
	history   *fakeRecorder
	events    *fakePublisher
	tempDir   string
	p         *Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		stt:       &fakeSTT{resp: scenarioA()},
		romanizer: &fakeRomanizer{out: "vanakkam eppadi irukkinga"},
		store:     newMemStore(),
		history:   &fakeRecorder{},
		events:    &fakePublisher{},
		tempDir:   t.TempDir(),
	}
	h.p = New(Options{
		Transcriber: h.stt,
		Romanizer:   h.romanizer,
		Store:       h.store,
		History:     h.history,
		Events:      h.events,
		Language:    "ta",
		TempDir:     h.tempDir,
		Log:         zerolog.Nop(),
	})
	return h
}

func (h *harness) assertTempEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "upload temp file must be removed")
}

func request(mode Mode, cred string) Request {
	return Request{Media: bytes.NewReader(wavBytes), Filename: "clip.wav", Mode: mode, Credential: cred}
}

func TestRun_NativeScenarioA(t *testing.T) {
	h := newHarness(t)

	res, err := h.p.Run(context.Background(), request(ModeNative, ""))
	require.NoError(t, err)

	assert.Equal(t, scenarioADoc, res.Document)
	assert.True(t, res.HasDocument())
	assert.Equal(t, 2, res.Segments)
	assert.Equal(t, "vanakkam eppadi irukkai", res.Transcript)
	assert.Empty(t, res.Romanized)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, "ta", h.stt.lastOpt.Language)
	assert.Equal(t, wavBytes, h.stt.got, "provider must see the uploaded bytes")
	assert.Zero(t, h.romanizer.calls)
	h.assertTempEmpty(t)
}

func TestRun_ThanglishWithoutCredential(t *testing.T) {
	h := newHarness(t)

	res, err := h.p.Run(context.Background(), request(ModeThanglish, "  "))
	require.NoError(t, err)

	assert.Equal(t, scenarioADoc, res.Document)
	assert.Equal(t, "vanakkam eppadi irukkai", res.Transcript)
	assert.Empty(t, res.Romanized)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarnMissingCredential, res.Warnings[0].Kind)
	assert.Zero(t, h.romanizer.calls, "romanizer must not be invoked without a credential")
}

func TestRun_ThanglishRomanizationFails(t *testing.T) {
	h := newHarness(t)
	h.romanizer.err = &romanize.Error{StatusCode: 429, Err: errors.New("quota exceeded")}

	res, err := h.p.Run(context.Background(), request(ModeThanglish, "sk-test"))
	require.NoError(t, err, "romanization failure must not halt the job")

	assert.Equal(t, scenarioADoc, res.Document)
	assert.Equal(t, "vanakkam eppadi irukkai", res.Transcript)
	assert.Empty(t, res.Romanized)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarnRomanizationFailed, res.Warnings[0].Kind)
	assert.Contains(t, res.Warnings[0].Message, "quota exceeded")
	assert.Equal(t, 1, h.romanizer.calls)
	h.assertTempEmpty(t)
}

func TestRun_ThanglishSuccess(t *testing.T) {
	h := newHarness(t)

	res, err := h.p.Run(context.Background(), request(ModeThanglish, "sk-test"))
	require.NoError(t, err)

	assert.Equal(t, "vanakkam eppadi irukkinga", res.Romanized)
	assert.Equal(t, "vanakkam eppadi irukkai", h.romanizer.gotText)
	assert.Equal(t, "sk-test", h.romanizer.gotCreds)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, scenarioADoc, res.Document, "captions always come from native segments")

	assert.Equal(t, []byte("vanakkam eppadi irukkinga"), h.store.objects[storage.Key(res.JobID, ThanglishFile)])
}

func TestRun_RomanizerReportsMissingCredential(t *testing.T) {
	h := newHarness(t)
	h.romanizer.err = romanize.ErrMissingCredential

	res, err := h.p.Run(context.Background(), request(ModeThanglish, "sk-test"))
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarnMissingCredential, res.Warnings[0].Kind)
}

func TestRun_TranscriptionErrorHalts(t *testing.T) {
	h := newHarness(t)
	h.stt.err = &transcribe.Error{Provider: "fake", StatusCode: 500, Err: errors.New("model crashed")}

	res, err := h.p.Run(context.Background(), request(ModeThanglish, "sk-test"))
	require.Error(t, err)
	assert.Nil(t, res)

	var te *transcribe.Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 500, te.StatusCode)
	assert.Zero(t, h.romanizer.calls)
	assert.Empty(t, h.store.objects, "no artifacts for a failed job")
	h.assertTempEmpty(t)

	require.Len(t, h.history.rows, 1)
	assert.Equal(t, "failed", h.history.rows[0].Status)
	require.Equal(t, []string{"failed"}, h.events.events)
}

func TestRun_PlainProviderErrorIsWrapped(t *testing.T) {
	h := newHarness(t)
	h.stt.err = errors.New("connection refused")

	_, err := h.p.Run(context.Background(), request(ModeNative, ""))
	var te *transcribe.Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "fake", te.Provider)
}

func TestRun_InputErrors(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		kind InputKind
	}{
		{"no filename", Request{Media: bytes.NewReader(wavBytes)}, InputMissing},
		{"nil media", Request{Filename: "clip.wav"}, InputMissing},
		{"empty media", Request{Media: bytes.NewReader(nil), Filename: "clip.wav"}, InputEmpty},
		{"rejected extension", Request{Media: bytes.NewReader(wavBytes), Filename: "clip.txt"}, InputUnsupported},
		{"no extension", Request{Media: bytes.NewReader(wavBytes), Filename: "clip"}, InputUnsupported},
		{"text disguised as mp3", Request{Media: strings.NewReader("just some notes\n"), Filename: "notes.mp3"}, InputUnsupported},
		{"bad mode", Request{Media: bytes.NewReader(wavBytes), Filename: "clip.wav", Mode: "klingon"}, InputBadMode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			res, err := h.p.Run(context.Background(), tt.req)
			assert.Nil(t, res)

			var ie *InputError
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, tt.kind, ie.Kind)
			assert.Zero(t, h.stt.calls, "no service call for rejected input")
			assert.Zero(t, h.romanizer.calls)
			assert.Empty(t, h.history.rows)
			h.assertTempEmpty(t)
		})
	}
}

func ftypHead(brand string) []byte {
	head := append([]byte("\x00\x00\x00\x18ftyp"+brand+"\x00\x00\x00\x00"), []byte(brand)...)
	return append(head, make([]byte, 64)...)
}

func TestSniff_ISOBaseMediaBrands(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		head     []byte
		ok       bool
	}{
		{"isom", "a.mp4", ftypHead("isom"), true},
		{"mp42", "a.mp4", ftypHead("mp42"), true},
		{"M4A", "a.m4a", ftypHead("M4A "), true},
		{"sony xavc", "a.mp4", ftypHead("XAVC"), true},
		{"flash f4v", "a.mp4", ftypHead("f4v "), true},
		{"unknown brand m4a", "a.m4a", ftypHead("zzzz"), true},
		{"ftyp box in an mp3", "a.mp3", ftypHead("XAVC"), false},
		{"text as mp4", "a.mp4", []byte("just some notes about the meeting\n"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sniff(tt.filename, bytes.NewReader(tt.head))
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var ie *InputError
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, InputUnsupported, ie.Kind)
		})
	}
}

func TestRun_PassesDecodingOptions(t *testing.T) {
	stt := &fakeSTT{resp: scenarioA()}
	p := New(Options{
		Transcriber: stt,
		Language:    "ta",
		Temperature: 0.2,
		Prompt:      "Chennai, Madurai",
		BeamSize:    5,
		VadFilter:   true,
		TempDir:     t.TempDir(),
		Log:         zerolog.Nop(),
	})

	_, err := p.Run(context.Background(), request(ModeNative, ""))
	require.NoError(t, err)
	assert.Equal(t, transcribe.TranscribeOpts{
		Language:    "ta",
		Temperature: 0.2,
		Prompt:      "Chennai, Madurai",
		BeamSize:    5,
		VadFilter:   true,
	}, stt.lastOpt)
}

func TestRun_UppercaseExtensionAccepted(t *testing.T) {
	h := newHarness(t)
	_, err := h.p.Run(context.Background(), Request{Media: bytes.NewReader(wavBytes), Filename: "CLIP.WAV"})
	require.NoError(t, err)
}

func TestRun_FormatErrorKeepsTranscript(t *testing.T) {
	h := newHarness(t)
	h.stt.resp = &transcribe.Response{
		Text: "one two",
		Segments: []caption.Segment{
			{Start: 0, End: 1, Text: "one"},
			{Start: 2, End: 1.5, Text: "two"},
		},
	}

	res, err := h.p.Run(context.Background(), request(ModeNative, ""))
	require.NoError(t, err)

	assert.Equal(t, "one two", res.Transcript)
	assert.Empty(t, res.Document)
	assert.False(t, res.HasDocument())
	var fe *caption.FormatError
	require.ErrorAs(t, res.CaptionErr, &fe)
	assert.Equal(t, 2, fe.Index)

	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarnCaptionFailed, res.Warnings[0].Kind)
	assert.Empty(t, res.CaptionKey)
	assert.False(t, h.store.Exists(context.Background(), storage.Key(res.JobID, caption.Filename)))
	assert.True(t, h.store.Exists(context.Background(), storage.Key(res.JobID, TranscriptFile)))
}

func TestRun_EmptySegmentsGiveEmptyDocument(t *testing.T) {
	h := newHarness(t)
	h.stt.resp = &transcribe.Response{Text: ""}

	res, err := h.p.Run(context.Background(), request(ModeThanglish, "sk"))
	require.NoError(t, err)
	assert.True(t, res.HasDocument())
	assert.Equal(t, "", res.Document)
	assert.Zero(t, res.Segments)
	assert.Zero(t, h.romanizer.calls, "nothing to romanize")
}

func TestRun_StoresArtifacts(t *testing.T) {
	h := newHarness(t)

	res, err := h.p.Run(context.Background(), request(ModeNative, ""))
	require.NoError(t, err)

	key := storage.Key(res.JobID, caption.Filename)
	assert.Equal(t, key, res.CaptionKey)
	assert.Equal(t, scenarioADoc, string(h.store.objects[key]))
	assert.Equal(t, "vanakkam eppadi irukkai", string(h.store.objects[storage.Key(res.JobID, TranscriptFile)]))

	var row database.JobRow
	require.NoError(t, json.Unmarshal(h.store.objects[storage.Key(res.JobID, JobFile)], &row))
	assert.Equal(t, res.JobID, row.ID)
	assert.Equal(t, "completed", row.Status)
	assert.Equal(t, 2, row.SegmentCount)
	assert.Equal(t, "clip.wav", row.Filename)
}

func TestRun_StoreFailureIsWarning(t *testing.T) {
	h := newHarness(t)
	h.store.fail = true

	res, err := h.p.Run(context.Background(), request(ModeNative, ""))
	require.NoError(t, err)
	assert.Equal(t, scenarioADoc, res.Document)
	assert.Empty(t, res.CaptionKey)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarnStoreFailed, res.Warnings[0].Kind)
}

func TestRun_WithoutOptionalCollaborators(t *testing.T) {
	p := New(Options{Transcriber: &fakeSTT{resp: scenarioA()}, TempDir: t.TempDir(), Log: zerolog.Nop()})

	res, err := p.Run(context.Background(), request(ModeThanglish, "sk"))
	require.NoError(t, err)
	assert.Equal(t, scenarioADoc, res.Document)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarnRomanizationFailed, res.Warnings[0].Kind)
}

func TestRun_EventsAndHistoryOmitSecrets(t *testing.T) {
	h := newHarness(t)

	res, err := h.p.Run(context.Background(), request(ModeThanglish, "sk-very-secret"))
	require.NoError(t, err)

	require.Equal(t, []string{"completed"}, h.events.events)
	payload := string(h.events.payload[0])
	assert.Contains(t, payload, res.JobID.String())
	assert.NotContains(t, payload, "sk-very-secret")
	assert.NotContains(t, payload, "vanakkam", "events carry no transcript text")

	require.Len(t, h.history.rows, 1)
	row, err := json.Marshal(h.history.rows[0])
	require.NoError(t, err)
	assert.NotContains(t, string(row), "sk-very-secret")
	assert.Equal(t, "upload", h.history.rows[0].Source)

	for key, data := range h.store.objects {
		assert.NotContains(t, string(data), "sk-very-secret", key)
	}
}

func TestRun_PersistsWarningKindsOnly(t *testing.T) {
	h := newHarness(t)
	h.romanizer.err = &romanize.Error{
		StatusCode: 401,
		Err:        errors.New("Incorrect API key provided: sk-ab**************wxyz"),
	}

	res, err := h.p.Run(context.Background(), request(ModeThanglish, "sk-abcdefwxyz"))
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0].Message, "Incorrect API key", "the user still sees the reason")

	require.Len(t, h.history.rows, 1)
	assert.Equal(t, []string{string(WarnRomanizationFailed)}, h.history.rows[0].Warnings)

	summary := h.store.objects[storage.Key(res.JobID, JobFile)]
	require.NotEmpty(t, summary)
	assert.NotContains(t, string(summary), "wxyz")
	assert.Contains(t, string(summary), string(WarnRomanizationFailed))
}

func TestRun_ConcurrentJobsAreIndependent(t *testing.T) {
	h := newHarness(t)

	const n = 8
	ids := make(chan uuid.UUID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.p.Run(context.Background(), request(ModeNative, ""))
			if assert.NoError(t, err) {
				ids <- res.JobID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[uuid.UUID]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate job id")
		seen[id] = true
		assert.True(t, h.store.Exists(context.Background(), storage.Key(id, caption.Filename)))
	}
	assert.Len(t, seen, n)
	assert.Zero(t, h.p.InFlight())
	h.assertTempEmpty(t)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeNative, false},
		{"native", ModeNative, false},
		{"Tamil", ModeNative, false},
		{"thanglish", ModeThanglish, false},
		{" THANGLISH ", ModeThanglish, false},
		{"romanized", ModeThanglish, false},
		{"english", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			var ie *InputError
			assert.ErrorAs(t, err, &ie, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestInputError_Message(t *testing.T) {
	err := &InputError{Kind: InputUnsupported, Filename: "a.txt", Detail: "nope"}
	assert.Equal(t, "input unsupported_type (a.txt): nope", err.Error())
}
