package schema

// CatalogFields lists the catalog schema in source field order.
var CatalogFields = []string{
	"num_songs",
	"artist_id",
	"artist_latitude",
	"artist_longitude",
	"artist_location",
	"artist_name",
	"song_id",
	"title",
	"duration",
	"year",
}

// CatalogItem is one song metadata record. Year 0 means unknown.
type CatalogItem struct {
	NumSongs        *int32
	ArtistID        *string
	ArtistLatitude  *float64
	ArtistLongitude *float64
	ArtistLocation  *string
	ArtistName      *string
	SongID          *string
	Title           *string
	Duration        *float64
	Year            *int32
}

// DecodeCatalogItem maps a JSON object onto the catalog schema.
func DecodeCatalogItem(d *Decoder) CatalogItem {
	return CatalogItem{
		NumSongs:        d.Int32("num_songs"),
		ArtistID:        d.String("artist_id"),
		ArtistLatitude:  d.Float64("artist_latitude"),
		ArtistLongitude: d.Float64("artist_longitude"),
		ArtistLocation:  d.String("artist_location"),
		ArtistName:      d.String("artist_name"),
		SongID:          d.String("song_id"),
		Title:           d.String("title"),
		Duration:        d.Float64("duration"),
		Year:            d.Int32("year"),
	}
}
