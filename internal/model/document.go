package model

type Document struct {
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type SearchResult struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

type Collection struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Dim   int    `json:"dim"`
	Ctime int64  `json:"ctime"`
}
