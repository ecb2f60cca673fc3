package schema

// PageNextSong is the page value that marks a song play.
const PageNextSong = "NextSong"

// EventFields lists the listening log schema in source field order.
var EventFields = []string{
	"artist",
	"auth",
	"firstName",
	"gender",
	"itemInSession",
	"lastName",
	"length",
	"level",
	"location",
	"method",
	"page",
	"registration",
	"sessionId",
	"song",
	"status",
	"ts",
	"userAgent",
	"userId",
}

// Event is one user interaction from the listening logs. Ts is an epoch
// timestamp in milliseconds.
type Event struct {
	Artist        *string
	Auth          *string
	FirstName     *string
	Gender        *string
	ItemInSession *int32
	LastName      *string
	Length        *float64
	Level         *string
	Location      *string
	Method        *string
	Page          *string
	Registration  *string
	SessionID     *string
	Song          *string
	Status        *int32
	Ts            *int64
	UserAgent     *string
	UserID        *string
}

// DecodeEvent maps a JSON object onto the event schema.
func DecodeEvent(d *Decoder) Event {
	return Event{
		Artist:        d.String("artist"),
		Auth:          d.String("auth"),
		FirstName:     d.String("firstName"),
		Gender:        d.String("gender"),
		ItemInSession: d.Int32("itemInSession"),
		LastName:      d.String("lastName"),
		Length:        d.Float64("length"),
		Level:         d.String("level"),
		Location:      d.String("location"),
		Method:        d.String("method"),
		Page:          d.String("page"),
		Registration:  d.String("registration"),
		SessionID:     d.String("sessionId"),
		Song:          d.String("song"),
		Status:        d.Int32("status"),
		Ts:            d.Int64("ts"),
		UserAgent:     d.String("userAgent"),
		UserID:        d.String("userId"),
	}
}

// IsSongPlay reports whether the event is a NextSong page view.
func (e *Event) IsSongPlay() bool {
	return e.Page != nil && *e.Page == PageNextSong
}
