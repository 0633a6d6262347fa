// Package render builds the HTML bodies of document emails.
package render

import (
	"bytes"
	"html/template"
	"strings"

	"go.uber.org/fx"
)

var Module = fx.Module("render",
	fx.Provide(NewRenderer),
)

type Renderer interface {
	InvoiceEmail(input InvoiceEmail) (Email, error)
	ReceiptEmail(input ReceiptEmail) (Email, error)
}

// Email is a rendered subject and HTML body.
type Email struct {
	Subject string
	HTML    string
}

type Line struct {
	Description string
	Amount      string
}

type InvoiceEmail struct {
	IssuerName    string
	IssuerEmail   string
	CustomerName  string
	InvoiceNumber string
	IssueDate     string
	DueDate       string
	Lines         []Line
	Subtotal      string
	VATLabel      string
	VATAmount     string
	Total         string
	Notes         string
	BankDetails   string
}

type ReceiptEmail struct {
	IssuerName    string
	IssuerEmail   string
	CustomerName  string
	ReceiptNumber string
	IssueDate     string
	Lines         []Line
	Total         string
}

const layoutHTML = `{{define "layout"}}<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>{{template "title" .}}</title>
  <style>
    body { margin: 0; padding: 32px; font-family: -apple-system, "Segoe UI", Roboto, Helvetica, Arial, sans-serif; color: #1a1f36; background: #f7f9fc; }
    .card { background: #ffffff; max-width: 640px; margin: 0 auto; padding: 40px; border-radius: 4px; }
    h1 { margin: 0 0 8px; font-size: 22px; }
    .muted { color: #697386; font-size: 13px; }
    .amount { font-size: 28px; font-weight: 700; margin: 24px 0 4px; }
    table { width: 100%; border-collapse: collapse; margin: 24px 0; }
    th { text-align: left; font-size: 11px; text-transform: uppercase; color: #8792a2; border-bottom: 1px solid #e3e8ee; padding: 8px 0; }
    td { padding: 12px 0; border-bottom: 1px solid #e3e8ee; font-size: 14px; }
    .right { text-align: right; }
    .footer { margin-top: 32px; font-size: 12px; color: #8792a2; border-top: 1px solid #e3e8ee; padding-top: 16px; }
  </style>
</head>
<body>
  <div class="card">
    {{template "content" .}}
    <div class="footer">
      {{.IssuerName}}{{if .IssuerEmail}} &middot; {{.IssuerEmail}}{{end}}
    </div>
  </div>
</body>
</html>{{end}}`

const invoiceHTML = `{{define "title"}}Invoice {{.InvoiceNumber}}{{end}}
{{define "content"}}
    <h1>Invoice {{.InvoiceNumber}}</h1>
    <div class="muted">Issued {{.IssueDate}}</div>
    <p>Hello {{.CustomerName}},</p>
    <p>Please find attached invoice {{.InvoiceNumber}} from {{.IssuerName}}.</p>
    <div class="amount">{{.Total}}</div>
    <div class="muted">due {{.DueDate}}</div>
    <table>
      <thead><tr><th>Description</th><th class="right">Amount</th></tr></thead>
      <tbody>
        {{range .Lines}}<tr><td>{{.Description}}</td><td class="right">{{.Amount}}</td></tr>
        {{end}}
        <tr><td>Subtotal</td><td class="right">{{.Subtotal}}</td></tr>
        <tr><td>{{.VATLabel}}</td><td class="right">{{.VATAmount}}</td></tr>
        <tr><td><strong>Total</strong></td><td class="right"><strong>{{.Total}}</strong></td></tr>
      </tbody>
    </table>
    {{if .BankDetails}}<p class="muted">{{.BankDetails}}</p>{{end}}
    {{if .Notes}}<p>{{.Notes}}</p>{{end}}
{{end}}`

const receiptHTML = `{{define "title"}}Receipt {{.ReceiptNumber}}{{end}}
{{define "content"}}
    <h1>Receipt {{.ReceiptNumber}}</h1>
    <div class="muted">{{.IssueDate}}</div>
    <p>Hello {{.CustomerName}},</p>
    <p>Thank you for your payment. Your receipt is attached.</p>
    <div class="amount">{{.Total}}</div>
    <table>
      <thead><tr><th>Invoice</th><th class="right">Amount</th></tr></thead>
      <tbody>
        {{range .Lines}}<tr><td>{{.Description}}</td><td class="right">{{.Amount}}</td></tr>
        {{end}}
      </tbody>
    </table>
{{end}}`

type HTMLRenderer struct {
	invoice *template.Template
	receipt *template.Template
}

func NewRenderer() Renderer {
	return &HTMLRenderer{
		invoice: template.Must(template.Must(template.New("invoice").Parse(layoutHTML)).Parse(invoiceHTML)),
		receipt: template.Must(template.Must(template.New("receipt").Parse(layoutHTML)).Parse(receiptHTML)),
	}
}

func (r *HTMLRenderer) InvoiceEmail(input InvoiceEmail) (Email, error) {
	input.IssuerName = issuerName(input.IssuerName)
	body, err := execute(r.invoice, input)
	if err != nil {
		return Email{}, err
	}
	return Email{
		Subject: "Invoice " + input.InvoiceNumber + " from " + input.IssuerName,
		HTML:    body,
	}, nil
}

func (r *HTMLRenderer) ReceiptEmail(input ReceiptEmail) (Email, error) {
	input.IssuerName = issuerName(input.IssuerName)
	body, err := execute(r.receipt, input)
	if err != nil {
		return Email{}, err
	}
	return Email{
		Subject: "Receipt " + input.ReceiptNumber + " from " + input.IssuerName,
		HTML:    body,
	}, nil
}

func execute(tpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func issuerName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Billing"
	}
	return name
}
