package etherscan

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/dghubble/sling"
	"tokamak-zkrollup/common"
)

const (
	defaultMaxIdleConns    = 10
	defaultIdleConnTimeout = 2 * time.Second
)

type etherscanResponse struct {
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Result  GasPriceEtherscan `json:"result"`
}

// GasPriceEtherscan definition
type GasPriceEtherscan struct {
	LastBlock       string `json:"LastBlock"`
	SafeGasPrice    string `json:"SafeGasPrice"`
	ProposeGasPrice string `json:"ProposeGasPrice"`
	FastGasPrice    string `json:"FastGasPrice"`
}

// Service definition
type Service struct {
	clientEtherscan *sling.Sling
	apiKey          string
}

// Client is the interface to a gas price oracle
type Client interface {
	// Blocking.  Returns the gas price.
	GetGasPrice(ctx context.Context) (*GasPriceEtherscan, error)
}

// NewEtherscanService is the constructor that creates an etherscanService
func NewEtherscanService(etherscanURL string, apikey string) (*Service, error) {
	// Init
	tr := &http.Transport{
		MaxIdleConns:       defaultMaxIdleConns,
		IdleConnTimeout:    defaultIdleConnTimeout,
		DisableCompression: true,
	}
	httpClient := &http.Client{Transport: tr}
	return &Service{
		clientEtherscan: sling.New().Base(etherscanURL).Client(httpClient),
		apiKey:          apikey,
	}, nil
}

// GetGasPrice retrieves the gas price estimation from etherscan
func (p *Service) GetGasPrice(ctx context.Context) (*GasPriceEtherscan, error) {
	var resBody etherscanResponse
	url := "/api?module=gastracker&action=gasoracle&apikey=" + p.apiKey
	req, err := p.clientEtherscan.New().Get(url).Request()
	if err != nil {
		return nil, common.Wrap(err)
	}
	res, err := p.clientEtherscan.Do(req.WithContext(ctx), &resBody, nil)
	if err != nil {
		return nil, common.Wrap(err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, common.Wrap(fmt.Errorf("http response is not is %v", res.StatusCode))
	}
	if resBody.Status != "1" {
		return nil, common.Wrap(fmt.Errorf("etherscan: %v", resBody.Message))
	}
	return &resBody.Result, nil
}

// SuggestGasPrice returns the ProposeGasPrice of etherscan in wei
func (p *Service) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	gasPrice, err := p.GetGasPrice(ctx)
	if err != nil {
		return nil, common.Wrap(err)
	}
	gwei, ok := new(big.Float).SetString(gasPrice.ProposeGasPrice)
	if !ok {
		return nil, common.Wrap(fmt.Errorf("invalid gas price %q", gasPrice.ProposeGasPrice))
	}
	wei, _ := gwei.Mul(gwei, big.NewFloat(1e9)).Int(nil) //nolint:gomnd
	return wei, nil
}
