package neuraid

// addressUtxo is an entry of the getaddressutxos result.
type addressUtxo struct {
	Address     string `json:"address"`
	AssetName   string `json:"assetName,omitempty"`
	Txid        string `json:"txid"`
	OutputIndex uint32 `json:"outputIndex"`
	Script      string `json:"script"`
	Satoshis    uint64 `json:"satoshis"`
	Height      uint32 `json:"height"`

	scriptBytes []byte
	tip         uint32
}

func (u addressUtxo) GetTxid() string {
	return u.Txid
}

func (u addressUtxo) GetIndex() uint32 {
	return u.OutputIndex
}

func (u addressUtxo) GetValue() uint64 {
	return u.Satoshis
}

func (u addressUtxo) GetAddress() string {
	return u.Address
}

func (u addressUtxo) GetScript() []byte {
	return u.scriptBytes
}

// GetConfirmations returns 0 for mempool outputs, reported with no height.
func (u addressUtxo) GetConfirmations() uint32 {
	if u.Height == 0 || u.Height > u.tip {
		return 0
	}
	return u.tip - u.Height + 1
}
