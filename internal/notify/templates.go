package notify

import (
	htmltemplate "html/template"
	texttemplate "text/template"
)

type eventTemplate struct {
	subject string
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

var templates = map[Event]eventTemplate{
	EventExtractionComplete: {
		subject: "Your face is ready",
		text: texttemplate.Must(texttemplate.New("extraction.txt").Parse(`Hi {{.Username}},

We extracted your face from the recording you uploaded. You can now create personalized videos.
{{if .FaceImageURL}}
Face image: {{.FaceImageURL}}
{{end}}`)),
		html: htmltemplate.Must(htmltemplate.New("extraction.html").Parse(`<p>Hi {{.Username}},</p>
<p>We extracted your face from the recording you uploaded. You can now create personalized videos.</p>
{{if .FaceImageURL}}<p><img src="{{.FaceImageURL}}" alt="Your face" width="160"></p>{{end}}`)),
	},
	EventGenerationComplete: {
		subject: "Your video is ready",
		text: texttemplate.Must(texttemplate.New("generation.txt").Parse(`Hi {{.Username}},

Your video "{{.Title}}" is ready: {{.VideoURL}}
{{if .Note}}
Note: {{.Note}}
{{end}}`)),
		html: htmltemplate.Must(htmltemplate.New("generation.html").Parse(`<p>Hi {{.Username}},</p>
<p>Your video <strong>{{.Title}}</strong> is ready.</p>
<p><a href="{{.VideoURL}}">Watch it here</a></p>
{{if .Note}}<p><em>Note: {{.Note}}</em></p>{{end}}`)),
	},
}
