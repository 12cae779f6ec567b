// Package server exposes the codec over HTTP for inspecting headers and
// payloads without writing containers.
package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/datconv/pkg/dat"
)

// DefaultMaxBody bounds uploaded file size.
const DefaultMaxBody = 512 << 20

type Server struct {
	codec   *dat.Codec
	records *RecordStore
	maxBody int64
	clock   func() time.Time
}

type Option func(*Server)

func WithMaxBody(n int64) Option { return func(s *Server) { s.maxBody = n } }

func New(codec *dat.Codec, records *RecordStore, opts ...Option) *Server {
	if records == nil {
		records = NewRecordStore(0)
	}
	s := &Server{codec: codec, records: records, maxBody: DefaultMaxBody, clock: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/schemas", s.handleListSchemas)
	e.GET("/v1/schemas/:version", s.handleGetSchema)
	e.GET("/v1/enums/:field", s.handleGetEnum)

	e.POST("/v1/headers", s.handleDecodeHeader)
	e.POST("/v1/encode", s.handleEncodeHeader)

	e.POST("/v1/split", s.handleSplit)
	e.GET("/v1/records/:id", s.handleGetRecord)
	e.GET("/v1/records/:id/channels/:name", s.handleGetChannel)
	e.DELETE("/v1/records/:id", s.handleDeleteRecord)
}

type SchemaSummary struct {
	Version int `json:"version"`
	Fields  int `json:"fields"`
}

type SchemaList struct {
	HeaderLength  int             `json:"header_length"`
	MagicNumber   uint64          `json:"magic_number"`
	ChannelLayout string          `json:"channel_layout"`
	Schemas       []SchemaSummary `json:"schemas"`
	Enums         []string        `json:"enums"`
}

func (s *Server) handleListSchemas(c *echo.Context) error {
	reg := s.codec.Registry()
	format := reg.Format()
	out := SchemaList{
		HeaderLength:  format.HeaderLength,
		MagicNumber:   format.MagicNumber,
		ChannelLayout: string(format.ChannelLayout),
		Schemas:       []SchemaSummary{},
		Enums:         reg.EnumFields(),
	}
	for _, v := range reg.Versions() {
		sc, err := reg.Schema(v)
		if err != nil {
			return writeCodecError(c, err)
		}
		out.Schemas = append(out.Schemas, SchemaSummary{Version: v, Fields: sc.Len()})
	}
	return c.JSON(http.StatusOK, out)
}

type FieldInfo struct {
	Name   string `json:"name"`
	DType  string `json:"dtype"`
	Offset int    `json:"offset"`
	Shape  string `json:"shape"`
	Enum   bool   `json:"enum,omitempty"`
}

type SpacerInfo struct {
	Offset int `json:"offset"`
	Length int `json:"length"`
}

type SchemaDetail struct {
	Version int          `json:"version"`
	Fields  []FieldInfo  `json:"fields"`
	Spacers []SpacerInfo `json:"spacers"`
}

// handleGetSchema lists fields and spacers. Query parameters preset the
// fields that dependent shapes refer to, e.g. ?ChanNum=2; unset ones are 0.
func (s *Server) handleGetSchema(c *echo.Context) error {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil {
		return writeBadRequest(c, fmt.Sprintf("version %q is not an integer", c.Param("version")))
	}
	reg := s.codec.Registry()
	sc, err := reg.Schema(version)
	if err != nil {
		return writeNotFound(c, err.Error())
	}

	preset := map[string]any{}
	for k, vs := range c.Request().URL.Query() {
		if len(vs) > 0 {
			preset[k] = json.Number(vs[0])
		}
	}
	h, err := sc.ZeroWith(preset)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	spacers, err := sc.Spacers(h)
	if err != nil {
		return writeCodecError(c, err)
	}

	out := SchemaDetail{Version: version, Fields: []FieldInfo{}, Spacers: []SpacerInfo{}}
	for _, f := range sc.Fields() {
		_, isEnum := reg.Enum(f.Name)
		out.Fields = append(out.Fields, FieldInfo{
			Name:   f.Name,
			DType:  f.DType.String(),
			Offset: f.Offset,
			Shape:  f.ShapeString(),
			Enum:   isEnum,
		})
	}
	for _, sp := range spacers {
		out.Spacers = append(out.Spacers, SpacerInfo{Offset: sp.Offset, Length: sp.Length})
	}
	return c.JSON(http.StatusOK, out)
}

type EnumInfo struct {
	Field   string          `json:"field"`
	Entries []dat.EnumEntry `json:"entries"`
}

func (s *Server) handleGetEnum(c *echo.Context) error {
	field := c.Param("field")
	t, ok := s.codec.Registry().Enum(field)
	if !ok {
		return writeNotFound(c, fmt.Sprintf("no enum table for field %q", field))
	}
	return c.JSON(http.StatusOK, EnumInfo{Field: field, Entries: t.Entries()})
}

// decodeOptions reads ?eof=, ?fill= and ?derived= from the query.
func decodeOptions(c *echo.Context) (dat.DecodeOptions, error) {
	var opts dat.DecodeOptions
	q := c.Request().URL.Query()
	eof, err := dat.ParseEOFBehavior(q.Get("eof"))
	if err != nil {
		return opts, err
	}
	opts.EOF = eof
	if v := q.Get("fill"); v != "" {
		if opts.Fill, err = strconv.ParseInt(v, 0, 64); err != nil {
			return opts, fmt.Errorf("fill %q: %w", v, err)
		}
	}
	if v := q.Get("derived"); v != "" {
		derived, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("derived %q: %w", v, err)
		}
		opts.SkipDerived = !derived
	}
	return opts, nil
}

func (s *Server) readBody(c *echo.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, s.maxBody+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > s.maxBody {
		return nil, fmt.Errorf("request body exceeds %d bytes", s.maxBody)
	}
	return body, nil
}

type PaddingInfo struct {
	Field string `json:"field"`
	Want  int    `json:"want"`
	Got   int    `json:"got"`
	Fill  int64  `json:"fill"`
}

type HeaderResponse struct {
	Version int           `json:"version"`
	Fields  *dat.Fields   `json:"fields"`
	Padded  []PaddingInfo `json:"padded,omitempty"`
}

func paddingInfo(h *dat.Header) []PaddingInfo {
	var out []PaddingInfo
	for _, p := range h.Padded() {
		out = append(out, PaddingInfo{Field: p.Field, Want: p.Want, Got: p.Got, Fill: p.Fill})
	}
	return out
}

// handleDecodeHeader decodes the header of an uploaded file (or just its
// first bytes) to JSON fields.
func (s *Server) handleDecodeHeader(c *echo.Context) error {
	opts, err := decodeOptions(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	body, err := s.readBody(c)
	if err != nil {
		return writeError(c, http.StatusRequestEntityTooLarge, "invalid_request_error", err.Error())
	}
	h, err := s.codec.DecodeHeader(body, opts)
	if err != nil {
		return writeCodecError(c, err)
	}
	fields, err := s.codec.ToJSON(h, !opts.SkipDerived)
	if err != nil {
		return writeCodecError(c, err)
	}
	version, _ := h.Version()
	return c.JSON(http.StatusOK, HeaderResponse{Version: version, Fields: fields, Padded: paddingInfo(h)})
}

// handleEncodeHeader is the inverse: a JSON object of fields in, the header
// bytes out.
func (s *Server) handleEncodeHeader(c *echo.Context) error {
	body, err := s.readBody(c)
	if err != nil {
		return writeError(c, http.StatusRequestEntityTooLarge, "invalid_request_error", err.Error())
	}
	values, err := dat.DecodeJSON(body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	h, err := s.codec.FromJSON(values)
	if err != nil {
		return writeCodecError(c, err)
	}
	hb, err := s.codec.EncodeHeader(h)
	if err != nil {
		return writeCodecError(c, err)
	}
	return c.Blob(http.StatusOK, echo.MIMEOctetStream, hb)
}

type ChannelInfo struct {
	Name  string `json:"name"`
	Slot  int    `json:"slot"`
	DType string `json:"dtype"`
	Shape []int  `json:"shape"`
	Bytes int    `json:"bytes"`
}

type RecordResponse struct {
	ID          string        `json:"id"`
	Version     int           `json:"version"`
	Size        int64         `json:"size"`
	Channels    []ChannelInfo `json:"channels"`
	FooterBytes int           `json:"footer_bytes"`
	Truncated   bool          `json:"truncated"`
	Padded      []PaddingInfo `json:"padded,omitempty"`
	CreatedAt   int64         `json:"created_at"`
}

func recordResponse(sr *storedRecord) RecordResponse {
	rec := sr.Record
	out := RecordResponse{
		ID:          sr.ID,
		Size:        rec.Size,
		Channels:    []ChannelInfo{},
		FooterBytes: len(rec.Footer),
		Truncated:   rec.Truncated,
		Padded:      paddingInfo(rec.Header),
		CreatedAt:   sr.Created.Unix(),
	}
	out.Version, _ = rec.Header.Version()
	for _, ch := range rec.Channels {
		out.Channels = append(out.Channels, ChannelInfo{
			Name:  ch.Name(),
			Slot:  ch.Slot,
			DType: ch.Data.DType.String(),
			Shape: ch.Data.Shape,
			Bytes: ch.Data.ByteLen(),
		})
	}
	return out
}

// handleSplit parses a whole file and keeps it for channel downloads.
func (s *Server) handleSplit(c *echo.Context) error {
	opts, err := decodeOptions(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	body, err := s.readBody(c)
	if err != nil {
		return writeError(c, http.StatusRequestEntityTooLarge, "invalid_request_error", err.Error())
	}
	rec, err := s.codec.Parse(body, opts)
	if err != nil {
		return writeCodecError(c, err)
	}
	id := s.records.Put(rec, s.clock())
	sr, _ := s.records.Get(id)
	return c.JSON(http.StatusOK, recordResponse(sr))
}

func (s *Server) handleGetRecord(c *echo.Context) error {
	sr, ok := s.records.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "record not found")
	}
	return c.JSON(http.StatusOK, recordResponse(sr))
}

// handleGetChannel returns one channel's raw big-endian elements in
// column-major order.
func (s *Server) handleGetChannel(c *echo.Context) error {
	sr, ok := s.records.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "record not found")
	}
	name := c.Param("name")
	for _, ch := range sr.Record.Channels {
		if ch.Name() == name {
			return c.Blob(http.StatusOK, echo.MIMEOctetStream, ch.Data.Bytes())
		}
	}
	return writeNotFound(c, fmt.Sprintf("record has no channel %q", name))
}

func (s *Server) handleDeleteRecord(c *echo.Context) error {
	id := c.Param("id")
	if !s.records.Delete(id) {
		return writeNotFound(c, "record not found")
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "deleted": true})
}
