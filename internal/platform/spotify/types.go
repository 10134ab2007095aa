package spotify

// artistRef is the minimal artist object embedded in track and album
// payloads.
type artistRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// albumRef is the album object embedded in a track payload.
type albumRef struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Artists []artistRef `json:"artists"`
}

// track is the provider's track object, trimmed to the fields the
// downloader uses.
type track struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	TrackNumber int         `json:"track_number"`
	DiscNumber  int         `json:"disc_number"`
	Artists     []artistRef `json:"artists"`
	Album       albumRef    `json:"album"`
}

// album is the provider's album object as returned by the artist
// discography listing.
type album struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	AlbumGroup  string      `json:"album_group"`
	AlbumType   string      `json:"album_type"`
	TotalTracks int         `json:"total_tracks"`
	Artists     []artistRef `json:"artists"`
}

// trackPage is one page of an album's track listing. Tracks inside an
// album listing omit the album object, so it is carried separately.
type trackPage struct {
	Items  []track `json:"items"`
	Next   string  `json:"next"`
	Total  int     `json:"total"`
	Offset int     `json:"offset"`
}

// albumPage is one page of an artist's discography listing.
type albumPage struct {
	Items  []album `json:"items"`
	Next   string  `json:"next"`
	Total  int     `json:"total"`
	Offset int     `json:"offset"`
}

// tokenResponse is the client-credentials grant response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// apiError is the provider's error envelope.
type apiError struct {
	Error struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}
