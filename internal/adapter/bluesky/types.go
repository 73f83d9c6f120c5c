package bluesky

// XRPC request and response bodies. Only the fields the client reads or
// writes are modelled.

type createSessionInput struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type createSessionOutput struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Handle     string `json:"handle"`
	Did        string `json:"did"`
}

type createRecordInput struct {
	Repo       string     `json:"repo"`
	Collection string     `json:"collection"`
	Record     postRecord `json:"record"`
}

type createRecordOutput struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type postRecord struct {
	Type      string   `json:"$type"`
	Text      string   `json:"text"`
	CreatedAt string   `json:"createdAt"`
	Langs     []string `json:"langs,omitempty"`
	Facets    []facet  `json:"facets,omitempty"`
}

type facet struct {
	Index    byteSlice      `json:"index"`
	Features []facetFeature `json:"features"`
}

type byteSlice struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

type facetFeature struct {
	Type string `json:"$type"`
	URI  string `json:"uri"`
}

type authorFeedOutput struct {
	Cursor string     `json:"cursor,omitempty"`
	Feed   []feedItem `json:"feed"`
}

type feedItem struct {
	Post   feedPost        `json:"post"`
	Reason *feedItemReason `json:"reason,omitempty"`
}

type feedItemReason struct {
	Type string `json:"$type"`
}

type feedPost struct {
	URI    string     `json:"uri"`
	Record postRecord `json:"record"`
}
