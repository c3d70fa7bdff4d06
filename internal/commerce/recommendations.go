package commerce

import (
	"context"
	"strings"
)

// Product is one recommended storefront product.
type Product struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Price  string `json:"price"`
	Handle string `json:"handle"`
	Image  string `json:"image,omitempty"`
}

const productsQuery = `
query recommendedProducts($first: Int!, $sortKey: ProductSortKeys!, $reverse: Boolean!) {
  products(first: $first, sortKey: $sortKey, reverse: $reverse) {
    edges {
      node {
        id
        title
        handle
        priceRangeV2 {
          minVariantPrice {
            amount
          }
        }
        featuredImage {
          url
        }
      }
    }
  }
}`

type productsPayload struct {
	Products struct {
		Edges []struct {
			Node struct {
				ID           string `json:"id"`
				Title        string `json:"title"`
				Handle       string `json:"handle"`
				PriceRangeV2 struct {
					MinVariantPrice struct {
						Amount string `json:"amount"`
					} `json:"minVariantPrice"`
				} `json:"priceRangeV2"`
				FeaturedImage *struct {
					URL string `json:"url"`
				} `json:"featuredImage"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"products"`
}

// Recommendations returns up to limit products: best sellers first, newest
// products as a fallback. An unconfigured client returns placeholder
// samples so the recommendation side channel keeps working in development.
func (c *Client) Recommendations(ctx context.Context, limit int) ([]Product, error) {
	if !c.Configured() {
		return sampleProducts(limit), nil
	}

	products, err := c.fetchProducts(ctx, limit, "BEST_SELLING", false)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		products, err = c.fetchProducts(ctx, limit, "CREATED_AT", true)
		if err != nil {
			return nil, err
		}
	}
	return products, nil
}

func (c *Client) fetchProducts(ctx context.Context, limit int, sortKey string, reverse bool) ([]Product, error) {
	var payload productsPayload
	err := c.graphql(ctx, productsQuery, map[string]interface{}{
		"first":   limit,
		"sortKey": sortKey,
		"reverse": reverse,
	}, &payload)
	if err != nil {
		return nil, err
	}

	products := make([]Product, 0, len(payload.Products.Edges))
	for _, edge := range payload.Products.Edges {
		p := Product{
			ID:     strings.TrimPrefix(edge.Node.ID, "gid://shopify/Product/"),
			Title:  edge.Node.Title,
			Price:  edge.Node.PriceRangeV2.MinVariantPrice.Amount,
			Handle: edge.Node.Handle,
		}
		if edge.Node.FeaturedImage != nil {
			p.Image = edge.Node.FeaturedImage.URL
		}
		products = append(products, p)
	}
	return products, nil
}

func sampleProducts(limit int) []Product {
	samples := []Product{
		{ID: "1", Title: "Sample Product 1", Price: "29.99", Handle: "sample-product-1", Image: "https://via.placeholder.com/150"},
		{ID: "2", Title: "Sample Product 2", Price: "39.99", Handle: "sample-product-2", Image: "https://via.placeholder.com/150"},
	}
	if limit < len(samples) {
		return samples[:limit]
	}
	return samples
}
