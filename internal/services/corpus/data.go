package corpus

import (
	"time"

	"github.com/ternarybob/memoria/internal/models"
)

// corpusDate is the fixed timestamp stamped on built-in items so repeated
// calls return byte-identical results.
var corpusDate = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

func corpusItem(id, title, content, itemType string, relevance float64) models.KnowledgeItem {
	return models.KnowledgeItem{
		ID:        id,
		Title:     title,
		Content:   content,
		ItemType:  itemType,
		Source:    "offline-corpus",
		Relevance: relevance,
		Timestamp: corpusDate,
	}
}

// builtinTopics returns the curated topic set. Topic order is significant:
// it is the tie-break order for queries matching multiple topics, and the
// first topic seeds the default mix.
func builtinTopics() []Topic {
	return []Topic{
		{
			Name:     "Markets",
			Keywords: []string{"market", "index", "asx", "etf", "shares", "stock"},
			Items: []models.KnowledgeItem{
				corpusItem("corpus-markets-1", "How market indices work",
					"A market index tracks the performance of a basket of securities. Broad indices such as the ASX 200 or S&P 500 are weighted by market capitalisation, so larger companies move the index more.",
					"article", 0.9),
				corpusItem("corpus-markets-2", "Limit and market orders",
					"A market order executes immediately at the best available price. A limit order only executes at the nominated price or better, trading certainty of execution for certainty of price.",
					"definition", 0.85),
				corpusItem("corpus-markets-3", "Exchange-traded funds",
					"An ETF holds a basket of assets and trades on an exchange like a single share. Most track an index passively, which keeps management fees low.",
					"definition", 0.8),
			},
		},
		{
			Name:     "DeFi",
			Keywords: []string{"defi", "decentralized finance", "decentralised finance", "yield farming", "liquidity pool"},
			Items: []models.KnowledgeItem{
				corpusItem("corpus-defi-1", "What is DeFi?",
					"Decentralized finance (DeFi) rebuilds financial services such as lending, exchange, and derivatives as smart contracts on public blockchains, removing the traditional intermediary.",
					"article", 0.95),
				corpusItem("corpus-defi-2", "Liquidity pools",
					"A liquidity pool is a smart contract holding pairs of tokens that traders swap against. Liquidity providers earn a share of trading fees but are exposed to impermanent loss.",
					"definition", 0.9),
				corpusItem("corpus-defi-3", "DeFi risk checklist",
					"Before interacting with a DeFi protocol check the audit history, admin key arrangements, total value locked trend, and oracle dependencies. Unaudited contracts with upgradable admin keys carry the highest risk.",
					"guide", 0.85),
			},
		},
		{
			Name:     "Staking",
			Keywords: []string{"staking", "stake", "validator", "proof of stake"},
			Items: []models.KnowledgeItem{
				corpusItem("corpus-staking-1", "Proof-of-stake staking",
					"Staking locks tokens to secure a proof-of-stake network. Validators are selected in proportion to stake and earn protocol rewards; misbehaviour can be penalised by slashing.",
					"article", 0.9),
				corpusItem("corpus-staking-2", "Staking yield versus lockup",
					"Advertised staking yields must be weighed against unbonding periods. During unbonding the position earns nothing and cannot be sold, which matters in volatile markets.",
					"guide", 0.8),
			},
		},
		{
			Name:     "Portfolio",
			Keywords: []string{"portfolio", "diversif", "allocation", "rebalanc"},
			Items: []models.KnowledgeItem{
				corpusItem("corpus-portfolio-1", "Asset allocation basics",
					"Asset allocation divides a portfolio across asset classes with different risk and return profiles. It typically explains more of long-run portfolio variance than individual security selection.",
					"article", 0.9),
				corpusItem("corpus-portfolio-2", "Rebalancing",
					"Rebalancing periodically restores target weights by trimming outperformers and topping up laggards, enforcing a systematic sell-high buy-low discipline.",
					"definition", 0.8),
			},
		},
	}
}

// builtinGeneralPool returns the general fallback pool scanned for
// substring matches. Insertion order is the tie-break order.
func builtinGeneralPool() []models.KnowledgeItem {
	return []models.KnowledgeItem{
		corpusItem("corpus-general-1", "Compound interest",
			"Compound interest pays interest on previously earned interest. Over long horizons the compounding effect dominates the initial contribution.",
			"definition", 0.7),
		corpusItem("corpus-general-2", "Dollar-cost averaging",
			"Investing a fixed amount at regular intervals buys more units when prices are low and fewer when prices are high, reducing timing risk.",
			"definition", 0.7),
		corpusItem("corpus-general-3", "Reading an annual report",
			"Start with the auditor's opinion and the cash flow statement. Revenue recognition notes and related-party transactions are where surprises usually hide.",
			"guide", 0.65),
		corpusItem("corpus-general-4", "Volatility",
			"Volatility measures the dispersion of returns. High volatility means a wider range of likely outcomes, not necessarily lower expected returns.",
			"definition", 0.65),
		corpusItem("corpus-general-5", "Stablecoins",
			"A stablecoin pegs its value to a reference asset, usually the US dollar. Collateralised designs hold reserves; algorithmic designs have repeatedly failed under stress.",
			"definition", 0.6),
		corpusItem("corpus-general-6", "Order book depth",
			"Depth shows resting buy and sell interest at each price level. Thin depth means even small market orders can move the price materially.",
			"definition", 0.6),
	}
}
