package handlers

import (
	"math"
	"net/http"

	"flow-runner/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *HandlersTestSuite) TestFlowLifecycle() {
	flow := suite.createFlow("Checkout",
		models.Block{ID: "login", Name: "Login", Method: "POST", URL: "https://api.example/login", Order: 0},
		models.Block{ID: "cart", Name: "Cart", Method: "GET", URL: "https://api.example/cart", Order: 1},
	)
	assert.NotEmpty(suite.T(), flow.ID)
	assert.Len(suite.T(), flow.Blocks, 2)

	w := suite.do(http.MethodGet, "/api/v1/flows/"+flow.ID, nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	var fetched models.Flow
	suite.decode(w, &fetched)
	assert.Equal(suite.T(), "Checkout", fetched.Name)

	w = suite.do(http.MethodPut, "/api/v1/flows/"+flow.ID, FlowRequest{
		Name:   "Checkout v2",
		Blocks: []models.Block{{ID: "login", Name: "Login", Method: "POST", URL: "https://api.example/login"}},
	})
	require.Equal(suite.T(), http.StatusOK, w.Code, w.Body.String())

	w = suite.do(http.MethodGet, "/api/v1/flows", nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	var flows []models.Flow
	suite.decode(w, &flows)
	require.Len(suite.T(), flows, 1)
	assert.Equal(suite.T(), "Checkout v2", flows[0].Name)
	assert.Len(suite.T(), flows[0].Blocks, 1)

	w = suite.do(http.MethodDelete, "/api/v1/flows/"+flow.ID, nil)
	assert.Equal(suite.T(), http.StatusOK, w.Code)

	w = suite.do(http.MethodGet, "/api/v1/flows/"+flow.ID, nil)
	assert.Equal(suite.T(), http.StatusNotFound, w.Code)
}

func (suite *HandlersTestSuite) TestCreateFlowValidation() {
	tests := []struct {
		name string
		body any
	}{
		{"Missing name", map[string]any{"blocks": []any{}}},
		{"Duplicate block ids", FlowRequest{Name: "dup", Blocks: []models.Block{
			{ID: "a", Method: "GET"}, {ID: "a", Method: "GET"},
		}}},
		{"Unsupported method", FlowRequest{Name: "m", Blocks: []models.Block{{ID: "a", Method: "TRACE"}}}},
		{"Malformed JSON", `{"name":`},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			w := suite.do(http.MethodPost, "/api/v1/flows", tt.body)
			assert.Equal(suite.T(), http.StatusBadRequest, w.Code)
		})
	}
	assert.Empty(suite.T(), suite.flows.flows)
}

func (suite *HandlersTestSuite) TestUpdateMissingFlow() {
	w := suite.do(http.MethodPut, "/api/v1/flows/nope", FlowRequest{Name: "x"})
	assert.Equal(suite.T(), http.StatusNotFound, w.Code)

	w = suite.do(http.MethodDelete, "/api/v1/flows/nope", nil)
	assert.Equal(suite.T(), http.StatusNotFound, w.Code)
}

func (suite *HandlersTestSuite) TestBlockLifecycle() {
	flow := suite.createFlow("Orders",
		models.Block{ID: "list", Name: "List", Method: "GET", URL: "https://api.example/orders", Order: 4},
	)
	base := "/api/v1/flows/" + flow.ID + "/blocks"

	w := suite.do(http.MethodPost, base, CreateBlockRequest{
		Name:   "Create",
		Method: "POST",
		URL:    "https://api.example/orders",
		Body:   `{"sku":"A-1"}`,
	})
	require.Equal(suite.T(), http.StatusCreated, w.Code, w.Body.String())
	var created models.Block
	suite.decode(w, &created)
	assert.NotEmpty(suite.T(), created.ID)
	assert.Equal(suite.T(), 5, created.Order)

	name := "Create order"
	w = suite.do(http.MethodPut, base+"/"+created.ID, UpdateBlockRequest{Name: &name})
	require.Equal(suite.T(), http.StatusOK, w.Code)
	var updated models.Block
	suite.decode(w, &updated)
	assert.Equal(suite.T(), "Create order", updated.Name)
	assert.Equal(suite.T(), "POST", updated.Method)
	assert.Equal(suite.T(), `{"sku":"A-1"}`, updated.Body)

	w = suite.do(http.MethodGet, base+"/"+created.ID, nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)

	w = suite.do(http.MethodDelete, base+"/list", nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)

	stored, err := suite.flows.Get(suite.T().Context(), flow.ID)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), stored.Blocks, 1)
	assert.Equal(suite.T(), created.ID, stored.Blocks[0].ID)

	w = suite.do(http.MethodGet, base+"/list", nil)
	assert.Equal(suite.T(), http.StatusNotFound, w.Code)
}

func (suite *HandlersTestSuite) TestBlockRejectsInvalidUpdate() {
	flow := suite.createFlow("Orders",
		models.Block{ID: "list", Name: "List", Method: "GET", URL: "https://api.example/orders"},
	)

	method := "CONNECT"
	w := suite.do(http.MethodPut, "/api/v1/flows/"+flow.ID+"/blocks/list", UpdateBlockRequest{Method: &method})
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)

	w = suite.do(http.MethodPost, "/api/v1/flows/missing/blocks", CreateBlockRequest{Name: "x", Method: "GET"})
	assert.Equal(suite.T(), http.StatusNotFound, w.Code)
}

func (suite *HandlersTestSuite) TestCreateBlockAfterMaximumOrder() {
	flow := suite.createFlow("Edge",
		models.Block{ID: "last", Name: "Last", Method: "GET", URL: "https://api.example", Order: math.MaxInt},
	)

	w := suite.do(http.MethodPost, "/api/v1/flows/"+flow.ID+"/blocks", CreateBlockRequest{Name: "Next", Method: "GET"})
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)

	stored, err := suite.flows.Get(suite.T().Context(), flow.ID)
	require.NoError(suite.T(), err)
	assert.Len(suite.T(), stored.Blocks, 1)
}

func (suite *HandlersTestSuite) TestImportCollection() {
	collection := `{
		"info": {
			"name": "Shop API",
			"schema": "https://schema.getpostman.com/json/collection/v2.1.0/collection.json"
		},
		"item": [
			{"name": "Health", "request": {"method": "get", "url": "https://api.example/health"}},
			{"name": "Auth", "item": [
				{"name": "Login", "request": {
					"method": "POST",
					"url": {"raw": "{{base_url}}/login"},
					"header": [
						{"key": "Content-Type", "value": "application/json"},
						{"key": "X-Debug", "value": "1", "disabled": true}
					],
					"body": {"mode": "raw", "raw": "{\"user\":\"a\"}"}
				}}
			]},
			{"name": "Logout", "request": {"method": "DELETE", "url": "https://api.example/logout"}}
		]
	}`

	w := suite.do(http.MethodPost, "/api/v1/flows/import", collection)
	require.Equal(suite.T(), http.StatusCreated, w.Code, w.Body.String())

	var flow models.Flow
	suite.decode(w, &flow)
	assert.Equal(suite.T(), "Shop API", flow.Name)
	require.Len(suite.T(), flow.Blocks, 3)

	assert.Equal(suite.T(), "Health", flow.Blocks[0].Name)
	assert.Equal(suite.T(), "GET", flow.Blocks[0].Method)
	assert.Equal(suite.T(), "Auth / Login", flow.Blocks[1].Name)
	assert.Equal(suite.T(), "{{base_url}}/login", flow.Blocks[1].URL)
	assert.Equal(suite.T(), `{"user":"a"}`, flow.Blocks[1].Body)
	assert.True(suite.T(), flow.Blocks[1].Headers[0].Enabled)
	assert.False(suite.T(), flow.Blocks[1].Headers[1].Enabled)
	assert.Equal(suite.T(), "Logout", flow.Blocks[2].Name)

	for i, block := range flow.Blocks {
		assert.Equal(suite.T(), i, block.Order)
	}
}

func (suite *HandlersTestSuite) TestImportCollectionRejectsUnknownSchema() {
	w := suite.do(http.MethodPost, "/api/v1/flows/import",
		`{"info":{"name":"x","schema":"v1"},"item":[{"name":"a","request":{"method":"GET","url":"https://a.example"}}]}`)
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)
}
