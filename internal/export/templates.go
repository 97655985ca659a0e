package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"

	"phonesync/api/internal/markup"
)

//go:embed templates/*.html
var templateFS embed.FS

var forumTemplate = template.Must(template.New("forum.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).ParseFS(templateFS, "templates/forum.html"))

// TemplateData holds data for forum template rendering
type TemplateData struct {
	Title       string
	Version     string
	GeneratedAt time.Time
	Threads     []TemplateThread
}

type TemplateThread struct {
	Title   string
	Author  string
	Body    string
	Replies []TemplateReply
}

type TemplateReply struct {
	Author     string
	Content    string
	SubReplies []TemplateSubReply
}

type TemplateSubReply struct {
	Author       string
	ParentAuthor string
	Content      string
}

// TemplateDataFor lays doc out in the same order the chat buffer uses.
func TemplateDataFor(doc markup.Document, title, version string, now time.Time) TemplateData {
	data := TemplateData{Title: title, Version: version, GeneratedAt: now, Threads: []TemplateThread{}}
	for _, thread := range markup.Ordered(doc) {
		tt := TemplateThread{Title: thread.Title, Author: thread.Author, Body: thread.Body}
		for _, reply := range doc.Replies[thread.ID] {
			tr := TemplateReply{Author: reply.Author, Content: reply.Content}
			for _, sub := range reply.SubReplies {
				tr.SubReplies = append(tr.SubReplies, TemplateSubReply{
					Author:       sub.Author,
					ParentAuthor: sub.ParentAuthor,
					Content:      sub.Content,
				})
			}
			tt.Replies = append(tt.Replies, tr)
		}
		data.Threads = append(data.Threads, tt)
	}
	return data
}

// RenderForumHTML renders the forum template with provided data
func RenderForumHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := forumTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
