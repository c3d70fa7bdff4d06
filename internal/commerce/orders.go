package commerce

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Order is the subset of an order the chat surfaces to a customer.
type Order struct {
	ID                string     `json:"id"`
	OrderNumber       string     `json:"order_number"`
	Email             string     `json:"email,omitempty"`
	TotalPrice        string     `json:"total_price"`
	Currency          string     `json:"currency"`
	FinancialStatus   string     `json:"financial_status"`
	FulfillmentStatus string     `json:"fulfillment_status"`
	StatusURL         string     `json:"status_url,omitempty"`
	Tracking          []Tracking `json:"tracking,omitempty"`
}

// Tracking is one shipment's tracking entry.
type Tracking struct {
	Company string `json:"company,omitempty"`
	Number  string `json:"number,omitempty"`
	URL     string `json:"url,omitempty"`
}

// orderRefPattern matches an order reference in free text: an optional '#'
// followed by 4+ digits. Deliberately loose; it can match unrelated numbers.
var orderRefPattern = regexp.MustCompile(`#?\d{4,}`)

// ExtractOrderRef pulls the first order-reference token out of free text,
// without the leading '#'. Returns "" when none is present.
func ExtractOrderRef(text string) string {
	return strings.TrimPrefix(orderRefPattern.FindString(text), "#")
}

const findOrderQuery = `
query findOrder($query: String!) {
  orders(first: 1, query: $query, sortKey: CREATED_AT, reverse: true) {
    edges {
      node {
        id
        name
        email
        totalPriceSet {
          shopMoney {
            amount
            currencyCode
          }
        }
        displayFinancialStatus
        displayFulfillmentStatus
        statusPageUrl
        fulfillments {
          trackingInfo {
            company
            number
            url
          }
        }
      }
    }
  }
}`

type ordersPayload struct {
	Orders struct {
		Edges []struct {
			Node struct {
				ID            string `json:"id"`
				Name          string `json:"name"`
				Email         string `json:"email"`
				TotalPriceSet struct {
					ShopMoney struct {
						Amount       string `json:"amount"`
						CurrencyCode string `json:"currencyCode"`
					} `json:"shopMoney"`
				} `json:"totalPriceSet"`
				DisplayFinancialStatus   string `json:"displayFinancialStatus"`
				DisplayFulfillmentStatus string `json:"displayFulfillmentStatus"`
				StatusPageURL            string `json:"statusPageUrl"`
				Fulfillments             []struct {
					TrackingInfo []Tracking `json:"trackingInfo"`
				} `json:"fulfillments"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"orders"`
}

// FindOrder looks up the most recent order matching an order number or
// email address. Returns nil when nothing matches or the client is not
// configured.
func (c *Client) FindOrder(ctx context.Context, term string) (*Order, error) {
	if !c.Configured() {
		return nil, nil
	}

	var query string
	switch {
	case strings.Contains(term, "@"):
		query = "email:" + term
	case regexp.MustCompile(`^\d+$`).MatchString(term):
		query = "name:#" + term
	default:
		query = "name:" + term
	}

	var payload ordersPayload
	if err := c.graphql(ctx, findOrderQuery, map[string]interface{}{"query": query}, &payload); err != nil {
		return nil, err
	}
	if len(payload.Orders.Edges) == 0 {
		return nil, nil
	}

	node := payload.Orders.Edges[0].Node
	order := &Order{
		ID:                strings.TrimPrefix(node.ID, "gid://shopify/Order/"),
		OrderNumber:       node.Name,
		Email:             node.Email,
		TotalPrice:        node.TotalPriceSet.ShopMoney.Amount,
		Currency:          node.TotalPriceSet.ShopMoney.CurrencyCode,
		FinancialStatus:   node.DisplayFinancialStatus,
		FulfillmentStatus: node.DisplayFulfillmentStatus,
		StatusURL:         node.StatusPageURL,
	}
	if order.FinancialStatus == "" {
		order.FinancialStatus = "PENDING"
	}
	if order.FulfillmentStatus == "" {
		order.FulfillmentStatus = "UNFULFILLED"
	}
	for _, f := range node.Fulfillments {
		order.Tracking = append(order.Tracking, f.TrackingInfo...)
	}
	return order, nil
}

var financialStatusText = map[string]string{
	"PENDING":            "Pending",
	"AUTHORIZED":         "Authorized",
	"PARTIALLY_PAID":     "Partially Paid",
	"PAID":               "Paid",
	"PARTIALLY_REFUNDED": "Partially Refunded",
	"REFUNDED":           "Refunded",
	"VOIDED":             "Voided",
}

var fulfillmentStatusText = map[string]string{
	"UNFULFILLED":         "Not Shipped",
	"PARTIALLY_FULFILLED": "Partially Shipped",
	"FULFILLED":           "Shipped",
	"RESTOCKED":           "Restocked",
	"PENDING_FULFILLMENT": "Processing",
	"OPEN":                "Open",
	"IN_PROGRESS":         "In Progress",
	"ON_HOLD":             "On Hold",
	"SCHEDULED":           "Scheduled",
}

func statusText(m map[string]string, status string) string {
	if text, ok := m[status]; ok {
		return text
	}
	return status
}

// StatusMessage renders the customer-facing summary of an order.
func StatusMessage(order *Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Order %s:\n\n", order.OrderNumber)
	fmt.Fprintf(&b, "Payment: %s\n", statusText(financialStatusText, order.FinancialStatus))
	fmt.Fprintf(&b, "Fulfillment: %s\n", statusText(fulfillmentStatusText, order.FulfillmentStatus))

	if len(order.Tracking) > 0 {
		tracking := order.Tracking[0]
		company := tracking.Company
		if company == "" {
			company = "Carrier"
		}
		number := tracking.Number
		if number == "" {
			number = "N/A"
		}
		fmt.Fprintf(&b, "\nTracking: %s\nTracking Number: %s\n", company, number)
		if tracking.URL != "" {
			fmt.Fprintf(&b, "Track: %s\n", tracking.URL)
		}
	}

	if order.StatusURL != "" {
		fmt.Fprintf(&b, "\nView Full Details: %s", order.StatusURL)
	}
	return b.String()
}
