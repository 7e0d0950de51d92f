package models

// Notification is the payload published through the platform's post
// endpoint. It is a closed variant: either plain text, or text with an
// already-uploaded media handle attached.
type Notification interface {
	Body() string
}

// TextNotification is a text-only post.
type TextNotification struct {
	Text string
}

func (n TextNotification) Body() string { return n.Text }

// MediaNotification attaches a platform media handle to the post.
type MediaNotification struct {
	Text        string
	MediaHandle string
}

func (n MediaNotification) Body() string { return n.Text }
