package models

type Product struct {
	ID          string  `json:"_id" binding:"required"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price" binding:"gte=0"`
	Image       string  `json:"image,omitempty"`
	Category    string  `json:"category,omitempty"`
	Stock       int     `json:"stock,omitempty"`
}

type CartItem struct {
	Product
	Qty int `json:"qty"`
}

func (i CartItem) Subtotal() float64 {
	return i.Price * float64(i.Qty)
}
