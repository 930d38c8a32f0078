package shareholder

type CreateShareholderSchema struct {
	Name string `json:"name" validate:"required"`
}

type ShareholderShowSchema struct {
	Id        string `json:"id" validate:"required"`
	Name      string `json:"name" validate:"required"`
	Total     int64  `json:"total_shares"`
	Available int64  `json:"available_shares"`
	Locked    int64  `json:"locked_shares"`
}

type CreateShareholderResponseSchema = ShareholderShowSchema

type CreditSharesSchema struct {
	Amount *int64 `json:"amount" validate:"required,gt=0"`
}
