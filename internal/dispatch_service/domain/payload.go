package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// JobKind identifies the shape of an outbound message.
type JobKind string

const (
	KindText         JobKind = "text"
	KindTemplate     JobKind = "template"
	KindMedia        JobKind = "media"
	KindOTP          JobKind = "otp"
	KindReplyButtons JobKind = "reply_buttons"
	KindList         JobKind = "list"
	KindCTAButton    JobKind = "cta_button"
)

// Valid reports whether k is one of the supported kinds.
func (k JobKind) Valid() bool {
	switch k {
	case KindText, KindTemplate, KindMedia, KindOTP, KindReplyButtons, KindList, KindCTAButton:
		return true
	}
	return false
}

// Payload is the kind-specific body of an OutboundJob. The set of implementations
// is closed: one struct per JobKind, all declared in this file.
type Payload interface {
	Kind() JobKind
	Validate() error
	isPayload()
}

type TextPayload struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url,omitempty"`
}

type TemplatePayload struct {
	Name       string   `json:"name"`
	Language   string   `json:"language"`
	Parameters []string `json:"parameters,omitempty"`
}

// MediaType is the kind of attachment carried by a MediaPayload.
type MediaType string

const (
	MediaImage    MediaType = "image"
	MediaVideo    MediaType = "video"
	MediaAudio    MediaType = "audio"
	MediaDocument MediaType = "document"
)

type MediaPayload struct {
	MediaType MediaType `json:"media_type"`
	Link      string    `json:"link,omitempty"`
	MediaID   string    `json:"media_id,omitempty"`
	Caption   string    `json:"caption,omitempty"`
	Filename  string    `json:"filename,omitempty"`
}

// OTPPayload is an authentication template carrying a one-time code.
type OTPPayload struct {
	TemplateName string `json:"template_name"`
	Language     string `json:"language"`
	Code         string `json:"code"`
}

type ReplyButton struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type ReplyButtonsPayload struct {
	Body    string        `json:"body"`
	Header  string        `json:"header,omitempty"`
	Footer  string        `json:"footer,omitempty"`
	Buttons []ReplyButton `json:"buttons"`
}

type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type ListSection struct {
	Title string    `json:"title,omitempty"`
	Rows  []ListRow `json:"rows"`
}

type ListPayload struct {
	Body       string        `json:"body"`
	ButtonText string        `json:"button_text"`
	Header     string        `json:"header,omitempty"`
	Footer     string        `json:"footer,omitempty"`
	Sections   []ListSection `json:"sections"`
}

type CTAButtonPayload struct {
	Body        string `json:"body"`
	DisplayText string `json:"display_text"`
	URL         string `json:"url"`
	Header      string `json:"header,omitempty"`
	Footer      string `json:"footer,omitempty"`
}

func (TextPayload) Kind() JobKind         { return KindText }
func (TemplatePayload) Kind() JobKind     { return KindTemplate }
func (MediaPayload) Kind() JobKind        { return KindMedia }
func (OTPPayload) Kind() JobKind          { return KindOTP }
func (ReplyButtonsPayload) Kind() JobKind { return KindReplyButtons }
func (ListPayload) Kind() JobKind         { return KindList }
func (CTAButtonPayload) Kind() JobKind    { return KindCTAButton }

func (TextPayload) isPayload()         {}
func (TemplatePayload) isPayload()     {}
func (MediaPayload) isPayload()        {}
func (OTPPayload) isPayload()          {}
func (ReplyButtonsPayload) isPayload() {}
func (ListPayload) isPayload()         {}
func (CTAButtonPayload) isPayload()    {}

// Provider limits for interactive messages.
const (
	maxReplyButtons = 3
	maxListRows     = 10
)

func (p TextPayload) Validate() error {
	if strings.TrimSpace(p.Body) == "" {
		return errors.New("text: body is required")
	}
	return nil
}

func (p TemplatePayload) Validate() error {
	if p.Name == "" || p.Language == "" {
		return errors.New("template: name and language are required")
	}
	return nil
}

func (p MediaPayload) Validate() error {
	switch p.MediaType {
	case MediaImage, MediaVideo, MediaAudio, MediaDocument:
	default:
		return fmt.Errorf("media: unsupported media type %q", p.MediaType)
	}
	if p.Link == "" && p.MediaID == "" {
		return errors.New("media: link or media_id is required")
	}
	return nil
}

func (p OTPPayload) Validate() error {
	if p.TemplateName == "" || p.Language == "" {
		return errors.New("otp: template_name and language are required")
	}
	if p.Code == "" {
		return errors.New("otp: code is required")
	}
	return nil
}

func (p ReplyButtonsPayload) Validate() error {
	if p.Body == "" {
		return errors.New("reply_buttons: body is required")
	}
	if len(p.Buttons) == 0 || len(p.Buttons) > maxReplyButtons {
		return fmt.Errorf("reply_buttons: between 1 and %d buttons are required", maxReplyButtons)
	}
	for _, b := range p.Buttons {
		if b.ID == "" || b.Title == "" {
			return errors.New("reply_buttons: every button needs an id and a title")
		}
	}
	return nil
}

func (p ListPayload) Validate() error {
	if p.Body == "" || p.ButtonText == "" {
		return errors.New("list: body and button_text are required")
	}
	rows := 0
	for _, s := range p.Sections {
		rows += len(s.Rows)
	}
	if rows == 0 || rows > maxListRows {
		return fmt.Errorf("list: between 1 and %d rows are required", maxListRows)
	}
	return nil
}

func (p CTAButtonPayload) Validate() error {
	if p.Body == "" || p.DisplayText == "" || p.URL == "" {
		return errors.New("cta_button: body, display_text and url are required")
	}
	return nil
}

// DecodePayload restores a Payload from its stored JSON form.
func DecodePayload(kind JobKind, raw json.RawMessage) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindText:
		var v TextPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindTemplate:
		var v TemplatePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindMedia:
		var v MediaPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindOTP:
		var v OTPPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindReplyButtons:
		var v ReplyButtonsPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindList:
		var v ListPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindCTAButton:
		var v CTAButtonPayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}

// EncodePayload is the inverse of DecodePayload.
func EncodePayload(p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, ErrNilPayload
	}
	return json.Marshal(p)
}
