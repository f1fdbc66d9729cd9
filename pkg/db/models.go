package db

// Question is the persisted subset of an upstream question.
type Question struct {
	ID         int64
	IsAnswered bool
}

// WordStat is one row of the ranking query.
type WordStat struct {
	Word     string  `json:"word"`
	Answered int64   `json:"answered"`
	Total    int64   `json:"total"`
	Ratio    float64 `json:"ratio"`
}
