package etherscan

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuggestGasPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gastracker", r.URL.Query().Get("module"))
		assert.Equal(t, "key", r.URL.Query().Get("apikey"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"1","message":"OK","result":{"LastBlock":"100",`+
			`"SafeGasPrice":"10","ProposeGasPrice":"12.5","FastGasPrice":"15"}}`)
	}))
	defer server.Close()

	service, err := NewEtherscanService(server.URL, "key")
	require.NoError(t, err)
	gasPrice, err := service.GetGasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "15", gasPrice.FastGasPrice)

	wei, err := service.SuggestGasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "12500000000", wei.String())
}

func TestGetGasPriceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"0","message":"NOTOK","result":{}}`)
	}))
	defer server.Close()

	service, err := NewEtherscanService(server.URL, "key")
	require.NoError(t, err)
	_, err = service.GetGasPrice(context.Background())
	assert.Error(t, err)
}
